package safeguard

import (
	"time"

	"github.com/LukasBures/olynthus/internal/validation"
)

// ValidateTransaction checks a transaction request.
func ValidateTransaction(req TransactionRequest) validation.ValidationErrors {
	tx := req.Transaction
	return validation.Validate(
		validation.RequiredAddress("transaction.from", tx.From),
		validation.ValidAddress("transaction.to", tx.To),
		validation.ValidAmount("transaction.value", tx.Value),
		validation.ValidHexData("transaction.data", tx.Data),
		validation.ValidURL("metadata.url", req.Metadata.URL),
	)
}

// PrepareMessage validates a message request and parses its message. The
// message is only returned when there are no validation errors.
func PrepareMessage(req MessageRequest, now time.Time) (Message, validation.ValidationErrors) {
	d := req.Message.Domain
	errs := validation.Validate(
		validation.Required("message.domain.name", d.Name),
		validation.ValidChainID("message.domain.chainId", d.ChainID.String()),
		validation.RequiredAddress("message.domain.verifyingContract", d.VerifyingContract),
		validation.Required("message.primaryType", req.Message.PrimaryType),
		validation.ValidURL("metadata.url", req.Metadata.URL),
	)
	if len(errs) > 0 {
		return nil, errs
	}

	msg, err := ParseMessage(req.Message)
	if err != nil {
		return nil, validation.ValidationErrors{{Field: "message.message", Message: "should be a valid " + req.Message.PrimaryType + " object"}}
	}
	if errs := msg.Validate(now); len(errs) > 0 {
		return nil, errs
	}
	return msg, nil
}

// ValidateUser checks a user request. Either an address or an ENS name is
// required.
func ValidateUser(req UserRequest) validation.ValidationErrors {
	u := req.User
	errs := validation.Validate(
		validation.ValidAddress("user.address", u.Address),
		validation.ValidENS("user.ens", u.ENS),
	)
	if u.Address == "" && u.ENS == "" {
		errs = append(errs, validation.ValidationError{Field: "user", Message: "should have an address or an ens name"})
	}
	return errs
}
