package torii

// Hand-rolled protobuf encoding for the subset of the Iroha protocol schema
// the engine speaks: TransferAsset transactions, the three queries, and their
// responses. Field numbers below mirror iroha's transaction.proto,
// commands.proto, queries.proto, qry_responses.proto and endpoint.proto.

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Transaction
	txPayloadField    = 1
	txSignaturesField = 2

	// Transaction.Payload
	payloadReducedField = 1

	// Transaction.Payload.ReducedPayload
	rpCommandsField    = 1
	rpCreatorField     = 2
	rpCreatedTimeField = 3
	rpQuorumField      = 4

	// Command (oneof)
	cmdTransferAssetField = 16

	// TransferAsset
	taSrcField    = 1
	taDstField    = 2
	taAssetField  = 3
	taMemoField   = 4
	taAmountField = 5

	// Signature
	sigPublicKeyField = 1
	sigSignatureField = 2

	// Query
	queryPayloadField   = 1
	querySignatureField = 2

	// Query.Payload (meta + oneof)
	qpMetaField            = 1
	qpGetAccountField      = 3
	qpGetAcctAssetTxsField = 6
	qpGetTransactionsField = 7

	// QueryPayloadMeta
	metaCreatedTimeField = 1
	metaCreatorField     = 2
	metaCounterField     = 3

	// GetAccount
	gaAccountField = 1

	// GetAccountAssetTransactions
	gaatAccountField    = 1
	gaatAssetField      = 2
	gaatPaginationField = 3

	// TxPaginationMeta
	pmPageSizeField    = 1
	pmFirstTxHashField = 2

	// GetTransactions
	gtHashesField = 1

	// QueryResponse (oneof)
	qrAccountRespField = 3
	qrErrorRespField   = 4
	qrTxsRespField     = 6
	qrTxPageRespField  = 10

	// ErrorResponse
	erReasonField  = 1
	erMessageField = 2

	// TransactionsResponse / TransactionsPageResponse
	trTransactionsField = 1

	// ToriiResponse
	torStatusField = 1
	torHashField   = 2

	// TxStatusRequest
	tsrHashField = 1
)

// Transaction statuses from endpoint.proto.
const (
	txStatusStatelessFailed  = 0
	txStatusStatelessOK      = 1
	txStatusStatefulFailed   = 2
	txStatusStatefulOK       = 3
	txStatusRejected         = 4
	txStatusCommitted        = 5
	txStatusMstExpired       = 6
	txStatusNotReceived      = 7
	txStatusMstPending       = 8
	txStatusEnoughSignatures = 9
)

var txStatusNames = map[uint64]string{
	txStatusStatelessFailed:  "STATELESS_VALIDATION_FAILED",
	txStatusStatelessOK:      "STATELESS_VALIDATION_SUCCESS",
	txStatusStatefulFailed:   "STATEFUL_VALIDATION_FAILED",
	txStatusStatefulOK:       "STATEFUL_VALIDATION_SUCCESS",
	txStatusRejected:         "REJECTED",
	txStatusCommitted:        "COMMITTED",
	txStatusMstExpired:       "MST_EXPIRED",
	txStatusNotReceived:      "NOT_RECEIVED",
	txStatusMstPending:       "MST_PENDING",
	txStatusEnoughSignatures: "ENOUGH_SIGNATURES_COLLECTED",
}

func txStatusName(status uint64) string {
	if name, ok := txStatusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", status)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeTransferAsset(src, dst, asset, memo, amount string) []byte {
	var b []byte
	b = appendString(b, taSrcField, src)
	b = appendString(b, taDstField, dst)
	b = appendString(b, taAssetField, asset)
	b = appendString(b, taMemoField, memo)
	b = appendString(b, taAmountField, amount)
	return b
}

func encodeTransferCommand(transferAsset []byte) []byte {
	return appendMessage(nil, cmdTransferAssetField, transferAsset)
}

func encodeReducedPayload(commands [][]byte, creator string, createdTimeMillis uint64, quorum uint64) []byte {
	var b []byte
	for _, cmd := range commands {
		b = appendMessage(b, rpCommandsField, cmd)
	}
	b = appendString(b, rpCreatorField, creator)
	b = appendVarint(b, rpCreatedTimeField, createdTimeMillis)
	b = appendVarint(b, rpQuorumField, quorum)
	return b
}

func encodeTxPayload(reducedPayload []byte) []byte {
	return appendMessage(nil, payloadReducedField, reducedPayload)
}

func encodeSignature(publicKeyHex, signatureHex string) []byte {
	var b []byte
	b = appendString(b, sigPublicKeyField, publicKeyHex)
	b = appendString(b, sigSignatureField, signatureHex)
	return b
}

func encodeTransaction(payload, signature []byte) []byte {
	var b []byte
	b = appendMessage(b, txPayloadField, payload)
	b = appendMessage(b, txSignaturesField, signature)
	return b
}

func encodeTxStatusRequest(txHashHex string) []byte {
	return appendString(nil, tsrHashField, txHashHex)
}

func encodeQueryMeta(createdTimeMillis uint64, creator string, counter uint64) []byte {
	var b []byte
	b = appendVarint(b, metaCreatedTimeField, createdTimeMillis)
	b = appendString(b, metaCreatorField, creator)
	b = appendVarint(b, metaCounterField, counter)
	return b
}

func encodeGetAccount(accountID string) []byte {
	return appendString(nil, gaAccountField, accountID)
}

func encodePagination(pageSize uint64, firstTxHashHex string) []byte {
	var b []byte
	b = appendVarint(b, pmPageSizeField, pageSize)
	b = appendString(b, pmFirstTxHashField, firstTxHashHex)
	return b
}

func encodeGetAccountAssetTransactions(accountID, assetID string, pagination []byte) []byte {
	var b []byte
	b = appendString(b, gaatAccountField, accountID)
	b = appendString(b, gaatAssetField, assetID)
	b = appendMessage(b, gaatPaginationField, pagination)
	return b
}

func encodeGetTransactions(txHashesHex []string) []byte {
	var b []byte
	for _, h := range txHashesHex {
		b = appendString(b, gtHashesField, h)
	}
	return b
}

func encodeQueryPayload(meta []byte, queryField protowire.Number, query []byte) []byte {
	var b []byte
	b = appendMessage(b, qpMetaField, meta)
	b = appendMessage(b, queryField, query)
	return b
}

func encodeQuery(payload, signature []byte) []byte {
	var b []byte
	b = appendMessage(b, queryPayloadField, payload)
	b = appendMessage(b, querySignatureField, signature)
	return b
}

// field is one parsed protobuf field.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	varint uint64
	bytes  []byte
}

// parseFields splits a message into its fields, preserving order.
func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.varint = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.bytes = v
			b = b[n:]
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		case protowire.Fixed64Type:
			_, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		default:
			return nil, fmt.Errorf("unsupported wire type %d", typ)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

type toriiResponse struct {
	status uint64
	txHash string
}

func decodeToriiResponse(b []byte) (toriiResponse, error) {
	var resp toriiResponse
	fields, err := parseFields(b)
	if err != nil {
		return resp, err
	}
	for _, f := range fields {
		switch f.num {
		case torStatusField:
			resp.status = f.varint
		case torHashField:
			resp.txHash = string(f.bytes)
		}
	}
	return resp, nil
}

type errorResponse struct {
	reason  uint64
	message string
}

// queryResponse carries the oneof arm of an Iroha QueryResponse.
type queryResponse struct {
	errResp *errorResponse

	// body of the matched response message, valid for the transaction
	// list and account responses
	whichField protowire.Number
	body       []byte
}

func decodeQueryResponse(b []byte) (queryResponse, error) {
	var resp queryResponse
	fields, err := parseFields(b)
	if err != nil {
		return resp, err
	}
	for _, f := range fields {
		switch f.num {
		case qrErrorRespField:
			er, err := decodeErrorResponse(f.bytes)
			if err != nil {
				return resp, err
			}
			resp.errResp = &er
		case qrAccountRespField, qrTxsRespField, qrTxPageRespField:
			resp.whichField = f.num
			resp.body = f.bytes
		}
	}
	return resp, nil
}

func decodeErrorResponse(b []byte) (errorResponse, error) {
	var er errorResponse
	fields, err := parseFields(b)
	if err != nil {
		return er, err
	}
	for _, f := range fields {
		switch f.num {
		case erReasonField:
			er.reason = f.varint
		case erMessageField:
			er.message = string(f.bytes)
		}
	}
	return er, nil
}

// rawTransfer is a TransferAsset command as found on the wire, amount still
// in Iroha's decimal notation.
type rawTransfer struct {
	src    string
	dst    string
	asset  string
	memo   string
	amount string
}

// rawTransaction is a decoded ledger transaction; payload is kept verbatim
// because the transaction hash is defined over those exact bytes.
type rawTransaction struct {
	payload   []byte
	transfers []rawTransfer
}

// decodeTransactionsList parses the repeated Transaction field shared by
// TransactionsResponse and TransactionsPageResponse.
func decodeTransactionsList(b []byte) ([]rawTransaction, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}

	var txs []rawTransaction
	for _, f := range fields {
		if f.num != trTransactionsField {
			continue
		}
		tx, err := decodeTransaction(f.bytes)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func decodeTransaction(b []byte) (rawTransaction, error) {
	var tx rawTransaction
	fields, err := parseFields(b)
	if err != nil {
		return tx, err
	}

	for _, f := range fields {
		if f.num != txPayloadField {
			continue
		}
		tx.payload = f.bytes

		payloadFields, err := parseFields(f.bytes)
		if err != nil {
			return tx, err
		}
		for _, pf := range payloadFields {
			if pf.num != payloadReducedField {
				continue
			}
			transfers, err := decodeReducedPayloadTransfers(pf.bytes)
			if err != nil {
				return tx, err
			}
			tx.transfers = append(tx.transfers, transfers...)
		}
	}
	return tx, nil
}

func decodeReducedPayloadTransfers(b []byte) ([]rawTransfer, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}

	var transfers []rawTransfer
	for _, f := range fields {
		if f.num != rpCommandsField {
			continue
		}
		cmdFields, err := parseFields(f.bytes)
		if err != nil {
			return nil, err
		}
		for _, cf := range cmdFields {
			if cf.num != cmdTransferAssetField {
				continue
			}
			transfer, err := decodeTransferAsset(cf.bytes)
			if err != nil {
				return nil, err
			}
			transfers = append(transfers, transfer)
		}
	}
	return transfers, nil
}

func decodeTransferAsset(b []byte) (rawTransfer, error) {
	var t rawTransfer
	fields, err := parseFields(b)
	if err != nil {
		return t, err
	}
	for _, f := range fields {
		switch f.num {
		case taSrcField:
			t.src = string(f.bytes)
		case taDstField:
			t.dst = string(f.bytes)
		case taAssetField:
			t.asset = string(f.bytes)
		case taMemoField:
			t.memo = string(f.bytes)
		case taAmountField:
			t.amount = string(f.bytes)
		}
	}
	return t, nil
}
