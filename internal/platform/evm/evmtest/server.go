package evmtest

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Server is a JSON-RPC endpoint backed by a Caller, enough for ethclient
// view calls, balance reads and legacy transaction submission. Submitted
// transactions are mined immediately with the configured receipt status
// unless the server is set pending.
type Server struct {
	*httptest.Server

	caller  *Caller
	chainID *big.Int

	mu       sync.Mutex
	balances map[common.Address]*big.Int
	fail     bool
	pending  bool
	status   uint64
	sent     []*types.Transaction
}

// NewServer starts a server answering for chainID. Close it when done.
func NewServer(caller *Caller, chainID int64) *Server {
	s := &Server{
		caller:   caller,
		chainID:  big.NewInt(chainID),
		balances: make(map[common.Address]*big.Int),
		status:   types.ReceiptStatusSuccessful,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// SetBalance sets the native balance reported for addr.
func (s *Server) SetBalance(addr common.Address, wei *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = wei
}

// SetFailing makes every request answer HTTP 503.
func (s *Server) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// SetReceiptStatus sets the status of receipts for submitted transactions.
func (s *Server) SetReceiptStatus(status uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetPending withholds receipts so submitted transactions never mine.
func (s *Server) SetPending(pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = pending
}

// Sent returns the transactions submitted so far.
func (s *Server) Sent() []*types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Transaction(nil), s.sent...)
}

// GasPrice is the price eth_gasPrice reports.
var GasPrice = big.NewInt(1_000_000_000)

// GasUsed is the gas reported in every receipt.
const GasUsed = 210_000

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callArgs struct {
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, rerr := s.dispatch(r.Context(), req)

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rerr != nil {
		resp["error"] = rerr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "eth_chainId":
		return (*hexutil.Big)(s.chainID), nil
	case "eth_blockNumber":
		return hexutil.Uint64(1), nil
	case "eth_getBalance":
		var addr common.Address
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &addr) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid address"}
		}
		s.mu.Lock()
		bal := s.balances[addr]
		s.mu.Unlock()
		if bal == nil {
			bal = new(big.Int)
		}
		return (*hexutil.Big)(bal), nil
	case "eth_getCode":
		var addr common.Address
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &addr) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid address"}
		}
		code, _ := s.caller.CodeAt(ctx, addr, nil)
		return hexutil.Bytes(code), nil
	case "eth_call":
		var args callArgs
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &args) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid call"}
		}
		msg := ethereum.CallMsg{To: args.To}
		switch {
		case args.Input != nil:
			msg.Data = *args.Input
		case args.Data != nil:
			msg.Data = *args.Data
		}
		out, err := s.caller.CallContract(ctx, msg, nil)
		if err != nil {
			return nil, &rpcError{Code: 3, Message: "execution reverted: " + err.Error()}
		}
		return hexutil.Bytes(out), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(GasPrice), nil
	case "eth_getTransactionCount":
		s.mu.Lock()
		n := len(s.sent)
		s.mu.Unlock()
		return hexutil.Uint64(n), nil
	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &raw) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid transaction"}
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		s.mu.Lock()
		s.sent = append(s.sent, tx)
		s.mu.Unlock()
		return tx.Hash(), nil
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &hash) != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid hash"}
		}
		return s.receipt(hash), nil
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
}

func (s *Server) receipt(hash common.Hash) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return nil
	}
	for _, tx := range s.sent {
		if tx.Hash() != hash {
			continue
		}
		r := &types.Receipt{
			Type:              tx.Type(),
			Status:            s.status,
			CumulativeGasUsed: GasUsed,
			Logs:              []*types.Log{},
			TxHash:            hash,
			GasUsed:           GasUsed,
			BlockHash:         common.HexToHash("0x01"),
			BlockNumber:       big.NewInt(1),
		}
		out, err := json.Marshal(r)
		if err != nil {
			return nil
		}
		return json.RawMessage(out)
	}
	return nil
}
