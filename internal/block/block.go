// Package block implements the pure decode step from a raw masternode block
// payload into a structured Block value, plus the address-shape validator
// and the LST001/002/003 contract-standard classifiers.
//
// Grounded on original_source/block.py and original_source/blocks.py: the
// shape of "processed" (the single transaction envelope), "rewards", and
// "genesis" mirrors the Python dict access patterns there, translated into
// typed, validated Go structs instead of runtime dict lookups.
package block

import (
	"encoding/json"
	"strings"

	"lamden-indexer/internal/errs"
)

// Reward is one reward-distribution entry attached to a block.
type Reward struct {
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
	Reward json.RawMessage `json:"reward"`
}

// StateChange is one key/value state mutation recorded by a transaction or
// derived from a reward entry.
type StateChange struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// GenesisEntry is one {key, value} pair from a genesis state-changes file.
type GenesisEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Transaction is the decoded processed-transaction envelope of a block,
// without a "state" field: the state list is hoisted onto the owning Block
// (Block.State) instead.
type Transaction struct {
	Hash    string          `json:"hash"`
	Status  int             `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Payload TxPayload       `json:"transaction"`
}

// TxPayload is the inner "transaction.payload" object: sender, contract,
// function and kwargs. Kwargs is left as a raw map because its shape
// depends entirely on the called contract function.
type TxPayload struct {
	Sender   string                 `json:"sender"`
	Contract string                 `json:"contract"`
	Function string                 `json:"function"`
	Kwargs   map[string]interface{} `json:"kwargs"`
}

// Block is the fully decoded, typed value produced by Decode. It never
// calls back into the store; all store-dependent policy (monotonicity,
// idempotence) lives in the ingest writer.
type Block struct {
	Number        int64
	Hash          string
	Previous      string
	HLCTimestamp  string
	Content       json.RawMessage // the full raw payload, state-stripped nowhere: stored as-is
	HasTx         bool
	TxHash        string
	TxValid       bool
	TxResult      json.RawMessage
	TxPayload     TxPayload
	State         []StateChange
	Rewards       []Reward
	Sender        string
	Addresses     map[string]struct{}
	IsNewContract bool
	ContractName  string
	ContractCode  string
	LST001        bool
	LST002        bool
	LST003        bool
	IsGenesis     bool
}

// rawBlock mirrors the wire shape of a block payload closely enough for
// json.Unmarshal to populate it; Decode then validates and projects it into
// a Block.
type rawBlock struct {
	Error        *string         `json:"error"`
	Number       *int64          `json:"number"`
	Hash         *string         `json:"hash"`
	Previous     *string         `json:"previous"`
	HLCTimestamp *string         `json:"hlc_timestamp"`
	Processed    json.RawMessage `json:"processed"`
	Rewards      []rawReward     `json:"rewards"`
	Genesis      json.RawMessage `json:"genesis"`
}

type rawReward struct {
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
	Reward json.RawMessage `json:"reward"`
}

type rawProcessed struct {
	Hash        string          `json:"hash"`
	Status      int             `json:"status"`
	Result      json.RawMessage `json:"result"`
	State       []StateChange   `json:"state"`
	Transaction struct {
		Payload TxPayload `json:"payload"`
	} `json:"transaction"`
}

// Decode turns a raw JSON block payload into a Block value.
//
// Error conditions, per spec: a top-level "error" field means the source
// explicitly told us this identifier is invalid (errs.ErrInvalidBlock);
// anything else that fails to parse into the expected shape is a malformed
// block (errs.ErrMalformedBlock).
func Decode(raw []byte) (*Block, error) {
	var rb rawBlock
	if err := json.Unmarshal(raw, &rb); err != nil {
		return nil, errs.Malformed("decode block envelope", err)
	}
	if rb.Error != nil {
		return nil, errs.Invalid("decode block", *rb.Error)
	}
	if rb.Number == nil || rb.Hash == nil || rb.Previous == nil || rb.HLCTimestamp == nil {
		return nil, errs.Malformed("decode block", errMissingField)
	}

	b := &Block{
		Number:       *rb.Number,
		Hash:         *rb.Hash,
		Previous:     *rb.Previous,
		HLCTimestamp: stripZSuffix(*rb.HLCTimestamp),
		Content:      json.RawMessage(raw),
		Addresses:    map[string]struct{}{},
		IsGenesis:    *rb.Number == 0,
	}

	for _, r := range rb.Rewards {
		b.Rewards = append(b.Rewards, Reward{Key: r.Key, Value: r.Value, Reward: r.Reward})
	}

	if len(rb.Processed) > 0 && string(rb.Processed) != "null" {
		var p rawProcessed
		if err := json.Unmarshal(rb.Processed, &p); err != nil {
			return nil, errs.Malformed("decode processed transaction", err)
		}
		b.HasTx = true
		b.TxHash = p.Hash
		b.TxValid = p.Status == 0
		b.TxResult = normalizeNone(p.Result)
		b.TxPayload = p.Transaction.Payload
		b.State = p.State

		b.Sender = p.Transaction.Payload.Sender
		if IsAddress(b.Sender) {
			b.Addresses[b.Sender] = struct{}{}
		}
		if to, ok := p.Transaction.Payload.Kwargs["to"]; ok {
			if toStr, ok := to.(string); ok && IsAddress(toStr) {
				b.Addresses[toStr] = struct{}{}
			}
		}

		if p.Transaction.Payload.Contract == "submission" && p.Transaction.Payload.Function == "submit_contract" {
			name, code, ok := contractSubmission(p.Transaction.Payload.Kwargs)
			if ok {
				b.IsNewContract = true
				b.ContractName = name
				b.ContractCode = code
				b.LST001 = IsLST001(code)
				b.LST002 = IsLST002(code)
				b.LST003 = IsLST003(code)
			}
		}
	}

	return b, nil
}

var errMissingField = &malformedErr{"missing required field"}

type malformedErr struct{ msg string }

func (e *malformedErr) Error() string { return e.msg }

// stripZSuffix removes a trailing "Z_0" hybrid-logical-clock monotonic
// counter suffix from an HLC timestamp string, e.g.
// "2022-01-01T00:00:00.000000000Z_0" -> "2022-01-01T00:00:00.000000000".
func stripZSuffix(ts string) string {
	if idx := strings.LastIndex(ts, "Z_"); idx >= 0 {
		return ts[:idx]
	}
	return ts
}

// normalizeNone treats the literal JSON string "None" as an absent result,
// mirroring the Python source's string literal sentinel.
func normalizeNone(raw json.RawMessage) json.RawMessage {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s == "None" {
		return nil
	}
	return raw
}

func contractSubmission(kwargs map[string]interface{}) (name, code string, ok bool) {
	n, nameOK := kwargs["name"].(string)
	c, codeOK := kwargs["code"].(string)
	if !nameOK || !codeOK {
		return "", "", false
	}
	return n, c, true
}

// IsAddress reports whether s is shaped like a Lamden address: exactly 64
// hex characters.
func IsAddress(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func stripSpace(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsLST001 classifies the fungible-token standard by literal substring
// match on the source with its space characters removed (newlines are kept
// and are part of the matched fragments), per spec.md §4.1.
func IsLST001(code string) bool {
	c := stripSpace(code)
	required := []string{
		"balances=Hash(",
		"@export\ndeftransfer(amount:float,to:str)",
		"@export\ndefapprove(amount:float,to:str)",
		"@export\ndeftransfer_from(amount:float,to:str,main_account:str)",
	}
	return containsAll(c, required)
}

// IsLST002 classifies the metadata-registry standard.
func IsLST002(code string) bool {
	return strings.Contains(stripSpace(code), "metadata=Hash(")
}

// IsLST003 classifies the NFT-collection standard.
func IsLST003(code string) bool {
	c := stripSpace(code)
	required := []string{
		"collection_name=Variable()",
		"collection_owner=Variable()",
		"collection_nfts=Hash(",
		"collection_balances=Hash(",
		"collection_balances_approvals=Hash(",
		"@export\ndefmint_nft(name:str,description:str,ipfs_image_url:str,metadata:dict,amount:int)",
		"@export\ndeftransfer(name:str,amount:int,to:str)",
		"@export\ndefapprove(amount:int,name:str,to:str)",
		"@export\ndeftransfer_from(name:str,amount:int,to:str,main_account:str)",
	}
	return containsAll(c, required)
}

func containsAll(haystack string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}
