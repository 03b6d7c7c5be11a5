package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newRPCServer serves JSON-RPC responses built by result. A returned *RPCError
// is sent as the error member.
func newRPCServer(t *testing.T, result func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		out := result(req)
		if rpcErr, ok := out.(*RPCError); ok {
			resp["error"] = rpcErr
		} else {
			resp["result"] = out
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["encoding"] != "jsonParsed" || cfg["commitment"] != "confirmed" {
			t.Errorf("unexpected config: %v", cfg)
		}

		return map[string]interface{}{
			"slot":      int64(123456),
			"blockTime": int64(1700000000),
			"meta": map[string]interface{}{
				"err":         nil,
				"logMessages": []string{"Program log: Hello"},
				"innerInstructions": []interface{}{
					map[string]interface{}{
						"index": 1,
						"instructions": []interface{}{
							map[string]interface{}{
								"program":   "system",
								"programId": SystemProgramID,
								"parsed": map[string]interface{}{
									"type": "transfer",
									"info": map[string]interface{}{
										"source":      "router",
										"destination": "treasury",
										"lamports":    uint64(5000),
									},
								},
							},
						},
					},
				},
			},
			"transaction": map[string]interface{}{
				"signatures": []string{"testsig123"},
				"message": map[string]interface{}{
					"accountKeys": []interface{}{
						map[string]interface{}{"pubkey": "buyer", "signer": true, "writable": true},
						map[string]interface{}{"pubkey": "treasury", "signer": false, "writable": true},
					},
					"instructions": []interface{}{
						map[string]interface{}{
							"program":   "system",
							"programId": SystemProgramID,
							"parsed": map[string]interface{}{
								"type": "transfer",
								"info": map[string]interface{}{
									"source":      "buyer",
									"destination": "treasury",
									"lamports":    uint64(1_000_000_000),
								},
							},
						},
						map[string]interface{}{
							"program":   "spl-memo",
							"programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr",
							"parsed":    "hello",
						},
					},
				},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetTransaction(ctx, "testsig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}
	if tx.Slot != 123456 || tx.BlockTime != 1700000000 {
		t.Errorf("unexpected slot/blockTime: %d/%d", tx.Slot, tx.BlockTime)
	}
	if tx.Message == nil || len(tx.Message.AccountKeys) != 2 || tx.Message.AccountKeys[0] != "buyer" {
		t.Fatalf("unexpected message: %+v", tx.Message)
	}

	all := tx.AllInstructions()
	if len(all) != 3 {
		t.Fatalf("expected 3 instructions, got %d", len(all))
	}

	var transfers []SystemTransfer
	for _, ix := range all {
		if tr, ok := ix.SystemTransfer(); ok {
			transfers = append(transfers, tr)
		}
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 system transfers, got %d", len(transfers))
	}
	if transfers[0].Source != "buyer" || transfers[0].Lamports != 1_000_000_000 {
		t.Errorf("unexpected top-level transfer: %+v", transfers[0])
	}
	if transfers[1].Source != "router" || transfers[1].Lamports != 5000 {
		t.Errorf("unexpected inner transfer: %+v", transfers[1])
	}
	if all[2].Parsed != nil {
		t.Errorf("expected string-parsed memo to have nil Parsed")
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		return nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetTransaction(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if tx != nil {
		t.Errorf("expected nil for not found, got %+v", tx)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(999),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)
	ctx := context.Background()

	slot, err := client.GetSlot(ctx)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}

	if slot != 999 {
		t.Errorf("expected slot 999, got %d", slot)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		return &RPCError{Code: -32002, Message: "Transaction simulation failed: Blockhash not found"}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	ctx := context.Background()

	_, err := client.SendTransaction(ctx, "AQID")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rpcErr.Code != -32002 {
		t.Errorf("expected code -32002, got %d", rpcErr.Code)
	}
	if rpcErr.Attempt != 0 {
		t.Errorf("expected first attempt, got %d", rpcErr.Attempt)
	}
	if !IsRPCError(err) {
		t.Error("IsRPCError returned false")
	}
}

func TestHTTPClient_RPCErrorAfterResendRecordsAttempt(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   &RPCError{Code: -32002, Message: "Transaction simulation failed: This transaction has already been processed"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))

	_, err := client.SendTransaction(context.Background(), "AQID")
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected *RPCError, got %T (%v)", err, err)
	}
	if rpcErr.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", rpcErr.Attempt)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", attempts.Load())
	}
}

func TestHTTPClient_TransportErrorIsNotRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(1), WithRetryDelay(time.Millisecond))

	_, err := client.SendTransaction(context.Background(), "AQID")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if IsRPCError(err) {
		t.Errorf("transport failure must not be classified as RPC error: %v", err)
	}
}

func TestHTTPClient_SendTransaction(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		if req.Method != "sendTransaction" {
			t.Errorf("expected sendTransaction, got %s", req.Method)
		}
		if req.Params[0] != "AQID" {
			t.Errorf("unexpected payload: %v", req.Params[0])
		}
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["encoding"] != "base64" {
			t.Errorf("expected base64 encoding, got %v", cfg["encoding"])
		}
		return "5sig"
	})
	defer server.Close()

	sig, err := NewHTTPClient(server.URL).SendTransaction(context.Background(), "AQID")
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig != "5sig" {
		t.Errorf("expected signature 5sig, got %s", sig)
	}
}

func TestHTTPClient_GetSignatureStatuses(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 10},
			"value": []interface{}{
				map[string]interface{}{
					"slot":               int64(9),
					"confirmations":      nil,
					"err":                nil,
					"confirmationStatus": "finalized",
				},
				nil,
				map[string]interface{}{
					"slot":               int64(8),
					"confirmations":      uint64(3),
					"err":                map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
					"confirmationStatus": "confirmed",
				},
			},
		}
	})
	defer server.Close()

	statuses, err := NewHTTPClient(server.URL).GetSignatureStatuses(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GetSignatureStatuses: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Landed() || statuses[0].Err != nil {
		t.Errorf("status[0] should be landed without error: %+v", statuses[0])
	}
	if statuses[1] != nil || statuses[1].Landed() {
		t.Errorf("status[1] should be nil")
	}
	if statuses[2].Err == nil || *statuses[2].Confirmations != 3 {
		t.Errorf("status[2] should carry error and confirmations: %+v", statuses[2])
	}
}

func TestHTTPClient_GetLatestBlockhashAndHeight(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		switch req.Method {
		case "getLatestBlockhash":
			return map[string]interface{}{
				"context": map[string]interface{}{"slot": int64(77)},
				"value": map[string]interface{}{
					"blockhash":            "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
					"lastValidBlockHeight": uint64(3090),
				},
			}
		case "getBlockHeight":
			cfg, _ := req.Params[0].(map[string]interface{})
			if cfg["commitment"] != "finalized" {
				t.Errorf("expected finalized commitment, got %v", cfg["commitment"])
			}
			return uint64(3000)
		}
		t.Errorf("unexpected method %s", req.Method)
		return nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	bh, err := client.GetLatestBlockhash(ctx)
	if err != nil {
		t.Fatalf("GetLatestBlockhash: %v", err)
	}
	if bh.LastValidBlockHeight != 3090 || bh.Slot != 77 {
		t.Errorf("unexpected blockhash: %+v", bh)
	}

	height, err := client.GetBlockHeight(ctx, CommitmentFinalized)
	if err != nil {
		t.Fatalf("GetBlockHeight: %v", err)
	}
	if height != 3000 {
		t.Errorf("expected height 3000, got %d", height)
	}
}

func TestHTTPClient_Balances(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		switch req.Method {
		case "getBalance":
			return map[string]interface{}{"value": uint64(2_500_000_000)}
		case "getTokenAccountBalance":
			return map[string]interface{}{
				"value": map[string]interface{}{
					"amount":         "1000000000000000",
					"decimals":       9,
					"uiAmountString": "1000000",
				},
			}
		}
		return nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	lamports, err := client.GetBalance(ctx, "treasury")
	if err != nil || lamports != 2_500_000_000 {
		t.Errorf("GetBalance: got %d, %v", lamports, err)
	}

	amt, err := client.GetTokenAccountBalance(ctx, "ata")
	if err != nil {
		t.Fatalf("GetTokenAccountBalance: %v", err)
	}
	if amt.Amount != "1000000000000000" || amt.Decimals != 9 {
		t.Errorf("unexpected token amount: %+v", amt)
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getAccountInfo" {
			t.Errorf("expected method getAccountInfo, got %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"value": map[string]interface{}{
					"lamports":   uint64(1000000),
					"owner":      "11111111111111111111111111111111",
					"data":       []string{"SGVsbG8gV29ybGQ=", "base64"},
					"executable": false,
					"rentEpoch":  uint64(100),
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	info, err := client.GetAccountInfo(ctx, "testpubkey")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}

	if info == nil {
		t.Fatal("expected account info, got nil")
	}

	if info.Lamports != 1000000 {
		t.Errorf("expected lamports 1000000, got %d", info.Lamports)
	}

	if info.Owner != "11111111111111111111111111111111" {
		t.Errorf("unexpected owner: %s", info.Owner)
	}

	if info.Data != "SGVsbG8gV29ybGQ=" {
		t.Errorf("unexpected data: %s", info.Data)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"value": nil,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	info, err := client.GetAccountInfo(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}

	if info != nil {
		t.Errorf("expected nil for not found, got %+v", info)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetSlot(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
