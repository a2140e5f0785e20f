package ton

import (
	"strconv"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// FundingMemoPrefix marks transfer comments that top up a ledger identity.
const FundingMemoPrefix = "fund:"

// Transfer is an incoming value transfer to the funding wallet.
type Transfer struct {
	LT      uint64
	From    string
	Amount  uint64 // nanotons
	Comment string
}

// Ref is the idempotency reference the ledger credit is recorded under.
func (t Transfer) Ref() string {
	return "ton:" + strconv.FormatUint(t.LT, 10)
}

// ParseFundingMemo extracts the identity from a "fund:<base58>" comment.
func ParseFundingMemo(comment string) (solana.PublicKey, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(comment), FundingMemoPrefix)
	if !ok {
		return solana.PublicKey{}, false
	}
	id, err := solana.PublicKeyFromBase58(strings.TrimSpace(rest))
	if err != nil {
		return solana.PublicKey{}, false
	}
	return id, true
}

// IncomingTransfer returns the value transfer carried by tx's inbound
// internal message. Bounced, empty and oversized transfers are skipped.
func IncomingTransfer(tx *tlb.Transaction) (Transfer, bool) {
	if tx == nil || tx.IO.In == nil {
		return Transfer{}, false
	}
	inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || inMsg == nil || inMsg.Bounced {
		return Transfer{}, false
	}
	nano := inMsg.Amount.Nano()
	if nano.Sign() <= 0 || !nano.IsUint64() {
		return Transfer{}, false
	}
	from := ""
	if inMsg.SrcAddr != nil {
		from = inMsg.SrcAddr.String()
	}
	return Transfer{
		LT:      tx.LT,
		From:    from,
		Amount:  nano.Uint64(),
		Comment: CommentFromBody(inMsg.Body),
	}, true
}

// CommentFromBody decodes a text comment: opcode 0 followed by UTF-8 text.
func CommentFromBody(body *cell.Cell) string {
	if body == nil {
		return ""
	}
	slice := body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}
	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}
	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}
	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
