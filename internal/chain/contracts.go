package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Monitored event names.
const (
	EventMetadataCreated     = "MetadataCreated"
	EventMetadataUpdated     = "MetadataUpdated"
	EventMetadataState       = "MetadataState"
	EventTokenURIUpdate      = "TokenURIUpdate"
	EventMetadataValidated   = "MetadataValidated"
	EventOrderStarted        = "OrderStarted"
	EventExchangeCreated     = "ExchangeCreated"
	EventExchangeRateChanged = "ExchangeRateChanged"
	EventDispenserCreated    = "DispenserCreated"
)

// ErrEventMismatch is returned when a log is decoded as the wrong event.
var ErrEventMismatch = errors.New("log does not match event")

var (
	ERC721ABI    = mustParseABI(erc721TemplateABI)
	ERC20ABI     = mustParseABI(erc20TemplateABI)
	FixedRateABI = mustParseABI(fixedRateExchangeABI)
	DispenserABI = mustParseABI(dispenserABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return parsed
}

var eventABIs = map[string]abi.ABI{
	EventMetadataCreated:     ERC721ABI,
	EventMetadataUpdated:     ERC721ABI,
	EventMetadataState:       ERC721ABI,
	EventTokenURIUpdate:      ERC721ABI,
	EventMetadataValidated:   ERC721ABI,
	EventOrderStarted:        ERC20ABI,
	EventExchangeCreated:     FixedRateABI,
	EventExchangeRateChanged: FixedRateABI,
	EventDispenserCreated:    DispenserABI,
}

// EventTopic returns the signature hash (topic0) of a monitored event.
func EventTopic(name string) (common.Hash, bool) {
	a, ok := eventABIs[name]
	if !ok {
		return common.Hash{}, false
	}
	return a.Events[name].ID, true
}

// EventNames returns every monitored event name.
func EventNames() []string {
	names := make([]string, 0, len(eventABIs))
	for name := range eventABIs {
		names = append(names, name)
	}
	return names
}

// MetadataEvent is a decoded MetadataCreated or MetadataUpdated log.
type MetadataEvent struct {
	UpdatedBy    common.Address
	State        uint8
	DecryptorUrl string
	Flags        []byte
	Data         []byte
	MetaDataHash [32]byte
	Timestamp    *big.Int
	BlockNumber  *big.Int

	Raw Log
}

// MetadataStateEvent is a decoded MetadataState log.
type MetadataStateEvent struct {
	UpdatedBy   common.Address
	State       uint8
	Timestamp   *big.Int
	BlockNumber *big.Int

	Raw Log
}

// TokenURIUpdateEvent is a decoded TokenURIUpdate log.
type TokenURIUpdateEvent struct {
	UpdatedBy   common.Address
	TokenURI    string
	TokenID     *big.Int
	Timestamp   *big.Int
	BlockNumber *big.Int

	Raw Log
}

// MetadataValidatedEvent is a decoded MetadataValidated proof.
type MetadataValidatedEvent struct {
	Validator    common.Address
	MetaDataHash [32]byte
	V            uint8
	R            [32]byte
	S            [32]byte

	Raw Log
}

type OrderStartedEvent struct {
	Consumer             common.Address
	Payer                common.Address
	Amount               *big.Int
	ServiceIndex         *big.Int
	Timestamp            *big.Int
	PublishMarketAddress common.Address
	BlockNumber          *big.Int

	Raw Log
}

type ExchangeCreatedEvent struct {
	ExchangeId    [32]byte
	BaseToken     common.Address
	Datatoken     common.Address
	ExchangeOwner common.Address
	FixedRate     *big.Int

	Raw Log
}

type ExchangeRateChangedEvent struct {
	ExchangeId    [32]byte
	ExchangeOwner common.Address
	NewRate       *big.Int

	Raw Log
}

type DispenserCreatedEvent struct {
	DatatokenAddress common.Address
	Owner            common.Address
	MaxTokens        *big.Int
	MaxBalance       *big.Int
	AllowedSwapper   common.Address

	Raw Log
}

// unpackLog decodes both the data section and the indexed topics of l into
// out, after checking that topic0 matches the named event.
func unpackLog(contract abi.ABI, name string, l Log, out interface{}) error {
	ev, ok := contract.Events[name]
	if !ok {
		return fmt.Errorf("unknown event %s", name)
	}
	if l.Topic0() != ev.ID {
		return fmt.Errorf("%s: %w", name, ErrEventMismatch)
	}
	if len(l.Data) > 0 {
		if err := contract.UnpackIntoInterface(out, name, l.Data); err != nil {
			return fmt.Errorf("unpacking %s data: %w", name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopics(out, indexed, l.Topics[1:]); err != nil {
		return fmt.Errorf("unpacking %s topics: %w", name, err)
	}
	return nil
}

// UnpackMetadata decodes a MetadataCreated or MetadataUpdated log.
func UnpackMetadata(name string, l Log) (*MetadataEvent, error) {
	if name != EventMetadataCreated && name != EventMetadataUpdated {
		return nil, fmt.Errorf("%s is not a metadata event", name)
	}
	ev := &MetadataEvent{}
	if err := unpackLog(ERC721ABI, name, l, ev); err != nil {
		return nil, err
	}
	ev.Raw = l
	return ev, nil
}

func UnpackMetadataState(l Log) (*MetadataStateEvent, error) {
	ev := &MetadataStateEvent{}
	if err := unpackLog(ERC721ABI, EventMetadataState, l, ev); err != nil {
		return nil, err
	}
	ev.Raw = l
	return ev, nil
}

func UnpackTokenURIUpdate(l Log) (*TokenURIUpdateEvent, error) {
	ev := &TokenURIUpdateEvent{}
	if err := unpackLog(ERC721ABI, EventTokenURIUpdate, l, ev); err != nil {
		return nil, err
	}
	ev.Raw = l
	return ev, nil
}

func UnpackMetadataValidated(l Log) (*MetadataValidatedEvent, error) {
	ev := &MetadataValidatedEvent{}
	if err := unpackLog(ERC721ABI, EventMetadataValidated, l, ev); err != nil {
		return nil, err
	}
	ev.Raw = l
	return ev, nil
}

func UnpackOrderStarted(l Log) (*OrderStartedEvent, error) {
	ev := &OrderStartedEvent{}
	if err := unpackLog(ERC20ABI, EventOrderStarted, l, ev); err != nil {
		return nil, err
	}
	ev.Raw = l
	return ev, nil
}

func UnpackExchangeCreated(l Log) (*ExchangeCreatedEvent, error) {
	ev := &ExchangeCreatedEvent{}
	if err := unpackLog(FixedRateABI, EventExchangeCreated, l, ev); err != nil {
		return nil, err
	}
	ev.Raw = l
	return ev, nil
}

func UnpackExchangeRateChanged(l Log) (*ExchangeRateChangedEvent, error) {
	ev := &ExchangeRateChangedEvent{}
	if err := unpackLog(FixedRateABI, EventExchangeRateChanged, l, ev); err != nil {
		return nil, err
	}
	ev.Raw = l
	return ev, nil
}

func UnpackDispenserCreated(l Log) (*DispenserCreatedEvent, error) {
	ev := &DispenserCreatedEvent{}
	if err := unpackLog(DispenserABI, EventDispenserCreated, l, ev); err != nil {
		return nil, err
	}
	ev.Raw = l
	return ev, nil
}

// ReceiptEvents returns the logs of r that match the named event, in log
// order. Logs that fail to decode are skipped.
func ReceiptEvents(r *Receipt, name string) []Log {
	topic, ok := EventTopic(name)
	if !ok || r == nil {
		return nil
	}
	var out []Log
	for _, l := range r.Logs {
		if l.Topic0() == topic {
			out = append(out, l)
		}
	}
	return out
}

//-----------------------------------------------------------------------------
// view calls

// callView packs a view call, executes it against to and unpacks the single
// or multiple outputs.
func callView(ctx context.Context, n Node, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	out, err := n.CallContract(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, to.Hex(), err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	return vals, nil
}

func callString(ctx context.Context, n Node, contract abi.ABI, to common.Address, method string, args ...interface{}) (string, error) {
	vals, err := callView(ctx, n, contract, to, method, args...)
	if err != nil {
		return "", err
	}
	return firstString(method, vals)
}

func callAddress(ctx context.Context, n Node, contract abi.ABI, to common.Address, method string, args ...interface{}) (common.Address, error) {
	vals, err := callView(ctx, n, contract, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	return firstAddress(method, vals)
}

func firstString(method string, vals []interface{}) (string, error) {
	s, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("%s returned %T", method, vals[0])
	}
	return s, nil
}

func firstAddress(method string, vals []interface{}) (common.Address, error) {
	a, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s returned %T", method, vals[0])
	}
	return a, nil
}

// TokenName returns name() of an ERC721 or ERC20 token.
func TokenName(ctx context.Context, n Node, token common.Address) (string, error) {
	return callString(ctx, n, ERC20ABI, token, "name")
}

// TokenSymbol returns symbol() of an ERC721 or ERC20 token.
func TokenSymbol(ctx context.Context, n Node, token common.Address) (string, error) {
	return callString(ctx, n, ERC20ABI, token, "symbol")
}

// NFTOwner returns ownerOf(1), the data NFT's single token.
func NFTOwner(ctx context.Context, n Node, nft common.Address) (common.Address, error) {
	return callAddress(ctx, n, ERC721ABI, nft, "ownerOf", big.NewInt(1))
}

// NFTTokenURI returns tokenURI(1).
func NFTTokenURI(ctx context.Context, n Node, nft common.Address) (string, error) {
	return callString(ctx, n, ERC721ABI, nft, "tokenURI", big.NewInt(1))
}

// DatatokenNFT returns the data NFT a datatoken belongs to.
func DatatokenNFT(ctx context.Context, n Node, datatoken common.Address) (common.Address, error) {
	return callAddress(ctx, n, ERC20ABI, datatoken, "getERC721Address")
}

// Exchange is the subset of FixedRateExchange.getExchange used for pricing.
type Exchange struct {
	Owner     common.Address
	Datatoken common.Address
	BaseToken common.Address
	FixedRate *big.Int
	Active    bool
}

func GetExchange(ctx context.Context, n Node, fre common.Address, exchangeID [32]byte) (*Exchange, error) {
	vals, err := callView(ctx, n, FixedRateABI, fre, "getExchange", exchangeID)
	if err != nil {
		return nil, err
	}
	if len(vals) < 7 {
		return nil, fmt.Errorf("getExchange returned %d values", len(vals))
	}
	ex := &Exchange{}
	var ok bool
	if ex.Owner, ok = vals[0].(common.Address); !ok {
		return nil, fmt.Errorf("getExchange: owner is %T", vals[0])
	}
	if ex.Datatoken, ok = vals[1].(common.Address); !ok {
		return nil, fmt.Errorf("getExchange: datatoken is %T", vals[1])
	}
	if ex.BaseToken, ok = vals[3].(common.Address); !ok {
		return nil, fmt.Errorf("getExchange: baseToken is %T", vals[3])
	}
	if ex.FixedRate, ok = vals[5].(*big.Int); !ok {
		return nil, fmt.Errorf("getExchange: fixedRate is %T", vals[5])
	}
	ex.Active, _ = vals[6].(bool)
	return ex, nil
}
