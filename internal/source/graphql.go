package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	icommon "github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/metrics"
	"github.com/goran-ethernal/StarboardIndexor/internal/retry"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/goran-ethernal/StarboardIndexor/pkg/source"
)

// Compile-time check to ensure GraphQLSource implements the source.Source interface.
var _ source.Source = (*GraphQLSource)(nil)

const (
	blocksQuery = `query Blocks($after: String, $first: Int) {
  blocks(after: $after, first: $first) {
    nodes {
      id
      header { height time }
      transactions {
        id
        status {
          __typename
          ... on SuccessStatus {
            receipts { receiptType id rb data }
          }
        }
      }
    }
  }
}`

	headQuery = `query Head { chain { latestBlock { header { height } } } }`

	successStatus = "SuccessStatus"

	maxErrorBody = 512
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type gqlReceipt struct {
	ReceiptType string  `json:"receiptType"`
	ID          *string `json:"id"`
	RB          *string `json:"rb"`
	Data        *string `json:"data"`
}

type gqlTransaction struct {
	ID     string `json:"id"`
	Status *struct {
		Typename string       `json:"__typename"`
		Receipts []gqlReceipt `json:"receipts"`
	} `json:"status"`
}

type gqlBlock struct {
	ID     string `json:"id"`
	Header struct {
		Height string `json:"height"`
		Time   string `json:"time"`
	} `json:"header"`
	Transactions []gqlTransaction `json:"transactions"`
}

type blocksResponse struct {
	Blocks struct {
		Nodes []gqlBlock `json:"nodes"`
	} `json:"blocks"`
}

type headResponse struct {
	Chain struct {
		LatestBlock struct {
			Header struct {
				Height string `json:"height"`
			} `json:"header"`
		} `json:"latestBlock"`
	} `json:"chain"`
}

// GraphQLSource reads blocks from a fuel-core GraphQL endpoint.
type GraphQLSource struct {
	url    string
	client *http.Client
	retry  *config.RetryConfig
	log    *logger.Logger
}

// NewGraphQLSource creates a source for the endpoint in cfg.
func NewGraphQLSource(cfg config.SourceConfig, log *logger.Logger) *GraphQLSource {
	return &GraphQLSource{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.RequestTimeout.Duration},
		retry:  cfg.Retry,
		log:    log.WithComponent(icommon.ComponentSource),
	}
}

// Fetch returns up to limit consecutive blocks starting at fromHeight.
func (s *GraphQLSource) Fetch(ctx context.Context, fromHeight, limit uint64) ([]source.Block, error) {
	if limit == 0 {
		return nil, nil
	}

	vars := map[string]any{"first": limit}
	if fromHeight > 0 {
		vars["after"] = strconv.FormatUint(fromHeight-1, 10)
	}

	var resp blocksResponse
	if err := s.query(ctx, "blocks", blocksQuery, vars, &resp); err != nil {
		return nil, err
	}

	blocks := make([]source.Block, 0, len(resp.Blocks.Nodes))
	for _, node := range resp.Blocks.Nodes {
		block, err := convertBlock(node)
		if err != nil {
			return nil, err
		}

		expected := fromHeight + uint64(len(blocks))
		if block.Height != expected {
			if len(blocks) == 0 {
				return nil, fmt.Errorf("source returned block %d, expected %d", block.Height, expected)
			}
			s.log.Warnw("truncating batch at height gap", "expected", expected, "got", block.Height)
			break
		}
		blocks = append(blocks, block)
	}

	if n := len(blocks); n > 0 {
		s.log.Debugw("fetched blocks", "from", blocks[0].Height, "to", blocks[n-1].Height)
	}

	return blocks, nil
}

// Head returns the latest block height known to the node.
func (s *GraphQLSource) Head(ctx context.Context) (uint64, error) {
	var resp headResponse
	if err := s.query(ctx, "head", headQuery, nil, &resp); err != nil {
		return 0, err
	}

	height, err := strconv.ParseUint(resp.Chain.LatestBlock.Header.Height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid head height %q: %w", resp.Chain.LatestBlock.Header.Height, err)
	}

	metrics.ChainHeadSet(height)
	return height, nil
}

// Close releases idle connections.
func (s *GraphQLSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *GraphQLSource) query(ctx context.Context, operation, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode %s query: %w", operation, err)
	}

	return retry.Do(ctx, s.retry, "source_"+operation, func() error {
		start := time.Now()
		err := s.post(ctx, body, out)
		metrics.SourceRequestDuration(operation, time.Since(start))

		if err != nil {
			metrics.SourceRequestInc(operation, "error")
			s.log.Debugw("source request failed", "operation", operation, "error", err)
			return err
		}

		metrics.SourceRequestInc(operation, "success")
		return nil
	})
}

func (s *GraphQLSource) post(ctx context.Context, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &retry.StatusError{Code: resp.StatusCode, Body: msg}
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(data, &gqlResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, len(gqlResp.Errors))
		for i, e := range gqlResp.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
	}

	if len(gqlResp.Data) == 0 {
		return errors.New("graphql response has no data")
	}

	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// convertBlock flattens the receipts of the successful transactions of node in ledger order.
func convertBlock(node gqlBlock) (source.Block, error) {
	height, err := strconv.ParseUint(node.Header.Height, 10, 64)
	if err != nil {
		return source.Block{}, fmt.Errorf("invalid block height %q: %w", node.Header.Height, err)
	}

	ts, err := icommon.TAI64ToUnix(node.Header.Time)
	if err != nil {
		return source.Block{}, fmt.Errorf("block %d: %w", height, err)
	}

	block := source.Block{Height: height, Hash: node.ID, Time: ts}

	for _, tx := range node.Transactions {
		if tx.Status == nil || tx.Status.Typename != successStatus {
			continue
		}

		for i, r := range tx.Status.Receipts {
			receipt := source.Receipt{
				Type:     source.ReceiptType(r.ReceiptType),
				Contract: r.ID,
				TxID:     tx.ID,
			}
			if r.RB != nil {
				receipt.RB = *r.RB
			}
			if r.Data != nil {
				data, err := hexutil.Decode(normalizeHex(*r.Data))
				if err != nil {
					return source.Block{}, fmt.Errorf("block %d tx %s receipt %d: invalid data: %w", height, tx.ID, i, err)
				}
				receipt.Data = data
			}
			block.Receipts = append(block.Receipts, receipt)
		}
	}

	return block, nil
}

// normalizeHex adds the 0x prefix hexutil requires and maps an empty payload to "0x".
func normalizeHex(s string) string {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return s
}
