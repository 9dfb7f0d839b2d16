package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the risk MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var chainParam = mcp.WithString("chain",
	mcp.Description("Chain to assess on: 'ethereum', 'bsc' or 'polygon'. Defaults to the server's configured chain."),
	mcp.Enum("ethereum", "bsc", "polygon"))

var urlParam = mcp.WithString("url",
	mcp.Description("URL of the dApp that asked for the transaction or signature, checked against known phishing domains"))

var ToolAssessTransaction = mcp.NewTool("assess_transaction",
	mcp.WithDescription(
		"Assess a pending EVM transaction before it is signed. "+
			"Returns an ALLOW, WARN or BLOCK verdict with findings such as unlimited approvals, "+
			"transfers to burn addresses, malicious counterparties and phishing domains, plus a simulation of balance changes."),
	chainParam,
	mcp.WithString("from",
		mcp.Required(),
		mcp.Description("Sender address (e.g. '0x1234...')")),
	mcp.WithString("to",
		mcp.Description("Recipient or contract address. Omit for contract creation.")),
	mcp.WithString("value",
		mcp.Description("Native amount in whole units (e.g. '0.5'). Defaults to '0'.")),
	mcp.WithString("data",
		mcp.Description("Hex call data (e.g. '0x095ea7b3...'). Omit for a plain transfer.")),
	urlParam,
)

var ToolAssessMessage = mcp.NewTool("assess_message",
	mcp.WithDescription(
		"Assess an EIP-712 typed message before it is signed: ERC-20/DAI/ERC-721 permits, Permit2 and Seaport orders. "+
			"Returns ALLOW or BLOCK with findings such as underpriced NFT listings and approvals to private addresses."),
	chainParam,
	mcp.WithObject("typed_data",
		mcp.Required(),
		mcp.Description("The typed data as passed to eth_signTypedData_v4: {domain, primaryType, types, message}")),
	urlParam,
)

var ToolAssessUser = mcp.NewTool("assess_user",
	mcp.WithDescription(
		"Assess a wallet before interacting with it. Accepts an address or an ENS name and reports "+
			"whether it is a contract or an EOA and whether it is a known malicious counterparty."),
	chainParam,
	mcp.WithString("address",
		mcp.Description("Wallet address (e.g. '0x1234...')")),
	mcp.WithString("ens",
		mcp.Description("ENS name (e.g. 'vitalik.eth'), resolved on Ethereum mainnet")),
)

var ToolRecentAssessments = mcp.NewTool("recent_assessments",
	mcp.WithDescription(
		"List the most recent assessments recorded by the server, optionally for one wallet."),
	mcp.WithString("subject",
		mcp.Description("Only list assessments whose subject is this address")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of assessments to return (default 10)")),
)
