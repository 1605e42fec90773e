package chain

import (
	"bytes"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/pkg/errors"
)

var (
	errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector       = []byte{0x4e, 0x48, 0x7b, 0x71}
)

type dataError interface {
	error
	ErrorData() interface{}
}

// DecodeRevert extracts revert data from an RPC error. It returns nil when err carries no
// revert payload.
func DecodeRevert(err error) *clierr.Revert {
	if err == nil {
		return nil
	}
	var de dataError
	if !errors.As(err, &de) {
		if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
			return &clierr.Revert{Reason: "execution reverted"}
		}
		return nil
	}
	raw := revertBytes(de.ErrorData())
	if len(raw) == 0 {
		return &clierr.Revert{Reason: de.Error()}
	}
	return &clierr.Revert{Data: hexutil.Encode(raw), Reason: DecodeRevertData(raw)}
}

// DecodeRevertData renders Error(string), Panic(uint256) or a bare custom-error selector.
func DecodeRevertData(data []byte) string {
	if len(data) < 4 {
		if len(data) == 0 {
			return ""
		}
		return "revert data " + hexutil.Encode(data)
	}
	if bytes.Equal(data[:4], errorStringSelector) || bytes.Equal(data[:4], panicSelector) {
		if reason, err := abi.UnpackRevert(data); err == nil {
			return reason
		}
	}
	return "custom error " + hexutil.Encode(data[:4])
}

func revertBytes(v interface{}) []byte {
	switch t := v.(type) {
	case string:
		if !strings.HasPrefix(t, "0x") {
			return nil
		}
		return common.FromHex(t)
	case []byte:
		return t
	case hexutil.Bytes:
		return t
	default:
		return nil
	}
}
