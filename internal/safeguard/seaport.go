package safeguard

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/nft"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/units"
)

// Seaport item types.
const (
	itemNative  = "0"
	itemERC20   = "1"
	itemERC721  = "2"
	itemERC1155 = "3"
)

// proceeds is what the offerer receives for a listing.
type proceeds struct {
	text   string
	amount float64
	token  string
	// erc20 is the token address when the offerer is paid in an ERC-20.
	erc20 string
}

// seaportFindings compares the floor value of the offered NFTs with what
// the offerer receives back, and lists the NFTs being put up for sale.
func (e *Engine) seaportFindings(ctx context.Context, s *session, offerer string, offer []OfferItem, consideration []ConsiderationItem) []risk.Finding {
	details := make([]*nft.Details, len(offer))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range offer {
		g.Go(func() error {
			if d, ok := e.nfts.Details(gctx, s.chain, item.Token, item.IdentifierOrCriteria.String()); ok {
				details[i] = &d
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		assets []SeaportAsset
		floor  float64
	)
	for _, d := range details {
		if d == nil {
			continue
		}
		floor += d.FloorPrice
		assets = append(assets, SeaportAsset{Address: d.Contract, TokenID: d.TokenID, Name: d.Name, ImageURL: d.ImageURL})
	}

	native := chain.NativeCurrency(s.chain)
	var out []risk.Finding
	value := "0"
	if p, ok := e.offererProceeds(ctx, s, offerer, consideration); ok {
		value = p.text
		nativePrice := e.usdPrice(ctx, s, chain.WrappedNative(s.chain))
		floorUSD := floor * nativePrice
		proceedsUSD := p.amount * nativePrice
		if p.erc20 != "" {
			proceedsUSD = p.amount * e.usdPrice(ctx, s, p.erc20)
		}
		if floorUSD > proceedsUSD {
			out = append(out, risk.Finding{
				Level: risk.High,
				Kind:  risk.MaliciousSeaportSignature,
				Text: fmt.Sprintf("You are selling NFTs with total floor price %s %s, in exchange for %s %s",
					jsFloat(floor), native, jsFloat(p.amount), p.token),
			})
		}
	} else {
		out = append(out, risk.Finding{
			Level: risk.High,
			Kind:  risk.MaliciousSeaportSignature,
			Text:  "You are exchanging NFTs in return for nothing",
		})
	}

	if len(assets) > 0 {
		names := make([]string, len(assets))
		for i, a := range assets {
			names[i] = a.Address + " - " + a.TokenID
		}
		out = append(out, risk.Finding{
			Level: risk.Medium,
			Kind:  risk.SeaportTokenSale,
			Text:  "The following NFTs are being offered for sale on Seaport: " + strings.Join(names, ", ") + " for " + value,
			Details: SeaportSaleDetails{
				Assets: assets,
				From:   offerer,
				Value:  value,
			},
		})
	}
	return out
}

// offererProceeds reads the first consideration item paid back to the
// offerer. It reports false when the offerer receives nothing.
func (e *Engine) offererProceeds(ctx context.Context, s *session, offerer string, consideration []ConsiderationItem) (proceeds, bool) {
	var item *ConsiderationItem
	for i := range consideration {
		if strings.EqualFold(consideration[i].Recipient, offerer) {
			item = &consideration[i]
			break
		}
	}
	if item == nil {
		return proceeds{}, false
	}

	amount, ok := new(big.Int).SetString(item.StartAmount.String(), 10)
	if !ok {
		amount = new(big.Int)
	}
	native := chain.NativeCurrency(s.chain)

	switch item.ItemType.String() {
	case itemNative:
		return proceeds{
			text:   units.Format(amount, units.EtherDecimals) + " " + native,
			amount: units.Float(amount, units.EtherDecimals),
			token:  native,
		}, true
	case itemERC20:
		decimals := units.EtherDecimals
		info, ok := s.tokenInfo(ctx, item.Token)
		if ok && info.Decimals > 0 {
			decimals = info.Decimals
		}
		f := units.Float(amount, decimals)
		return proceeds{
			text:   jsFloat(f) + " " + info.Symbol,
			amount: f,
			token:  info.Symbol,
			erc20:  item.Token,
		}, true
	default:
		p := proceeds{text: item.StartAmount.String()}
		if d, ok := e.nfts.Details(ctx, s.chain, item.Token, item.IdentifierOrCriteria.String()); ok {
			p.text = fmt.Sprintf("%s %s (ID: %s)", item.StartAmount, d.Name, d.TokenID)
			p.amount = d.FloorPrice
			p.token = d.FloorPriceToken
		}
		return p, true
	}
}

func (e *Engine) usdPrice(ctx context.Context, s *session, token string) float64 {
	p, ok := e.prices.CurrentPrice(ctx, s.chain, token)
	if !ok {
		return 0
	}
	return p.Price
}

// seaportMessageType names the transfer an order's first offer makes.
func seaportMessageType(offer []OfferItem) risk.TxType {
	if len(offer) > 0 && offer[0].ItemType.String() == itemERC721 {
		return risk.ERC721Transfer
	}
	return risk.ERC1155Transfer
}
