package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/goran-ethernal/StarboardIndexor/pkg/source"
	"github.com/stretchr/testify/require"
)

const tai64Base = uint64(1)<<62 + 10

func tai(unix uint64) string {
	return jsonNumber(tai64Base + unix)
}

func jsonNumber(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func blocksPayload(heights ...uint64) string {
	nodes := make([]map[string]any, 0, len(heights))
	for _, h := range heights {
		contract := "0xvault"
		nodes = append(nodes, map[string]any{
			"id":     "0xblock" + jsonNumber(h),
			"header": map[string]any{"height": jsonNumber(h), "time": tai(1_700_000_000 + h)},
			"transactions": []any{
				map[string]any{
					"id": "0xfailed",
					"status": map[string]any{
						"__typename": "FailureStatus",
					},
				},
				map[string]any{
					"id": "0xtx" + jsonNumber(h),
					"status": map[string]any{
						"__typename": "SuccessStatus",
						"receipts": []any{
							map[string]any{"receiptType": "CALL", "id": nil},
							map[string]any{"receiptType": "LOG_DATA", "id": contract, "rb": "42", "data": "0x0102"},
						},
					},
				},
			},
		})
	}

	data, _ := json.Marshal(map[string]any{"data": map[string]any{"blocks": map[string]any{"nodes": nodes}}})
	return string(data)
}

func retryConfig() *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}
}

func newGraphQL(url string) *GraphQLSource {
	cfg := config.SourceConfig{Type: config.SourceTypeGraphQL, URL: url, Retry: retryConfig()}
	cfg.ApplyDefaults()
	return NewGraphQLSource(cfg, logger.NewNopLogger())
}

func TestGraphQLSource_Fetch(t *testing.T) {
	var gotAfter atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Contains(t, req.Query, "blocks(after: $after, first: $first)")
		gotAfter.Store(req.Variables["after"])
		_, _ = io.WriteString(w, blocksPayload(10, 11))
	}))
	defer srv.Close()

	s := newGraphQL(srv.URL)
	defer s.Close()

	blocks, err := s.Fetch(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Equal(t, "9", gotAfter.Load())
	require.Len(t, blocks, 2)

	b := blocks[0]
	require.Equal(t, uint64(10), b.Height)
	require.Equal(t, int64(1_700_000_010), b.Time)
	require.Len(t, b.Receipts, 2, "failed transactions are skipped")
	require.False(t, b.Receipts[0].IsContractLog())
	require.True(t, b.Receipts[1].IsContractLog())
	require.Equal(t, "42", b.Receipts[1].RB)
	require.Equal(t, []byte{1, 2}, []byte(b.Receipts[1].Data))
	require.Equal(t, "0xtx10", b.Receipts[1].TxID)
}

func TestGraphQLSource_GenesisHasNoCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, hasAfter := req.Variables["after"]
		require.False(t, hasAfter)
		_, _ = io.WriteString(w, blocksPayload(0))
	}))
	defer srv.Close()

	blocks, err := newGraphQL(srv.URL).Fetch(context.Background(), 0, 5)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func TestGraphQLSource_GapHandling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, blocksPayload(5, 6, 8))
	}))
	defer srv.Close()

	s := newGraphQL(srv.URL)

	blocks, err := s.Fetch(context.Background(), 5, 3)
	require.NoError(t, err)
	require.Len(t, blocks, 2, "batch is truncated at the first gap")

	_, err = s.Fetch(context.Background(), 4, 3)
	require.ErrorContains(t, err, "expected 4")
}

func TestGraphQLSource_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, blocksPayload(1))
	}))
	defer srv.Close()

	blocks, err := newGraphQL(srv.URL).Fetch(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, int32(3), calls.Load())
}

func TestGraphQLSource_GraphQLErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"errors":[{"message":"unknown field"}]}`)
	}))
	defer srv.Close()

	_, err := newGraphQL(srv.URL).Fetch(context.Background(), 1, 1)
	require.ErrorContains(t, err, "unknown field")
	require.Equal(t, int32(1), calls.Load())
}

func TestGraphQLSource_Head(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"chain":{"latestBlock":{"header":{"height":"1234"}}}}}`)
	}))
	defer srv.Close()

	head, err := newGraphQL(srv.URL).Head(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1234), head)
}

func testBlocks() []source.Block {
	contract := "0xvault"
	return []source.Block{
		{Height: 3, Hash: "0x03", Time: 100, Receipts: []source.Receipt{
			{Type: source.ReceiptTypeLogData, Contract: &contract, RB: "1", Data: []byte{0xaa}, TxID: "0xt1"},
		}},
		{Height: 4, Hash: "0x04", Time: 101},
		{Height: 6, Hash: "0x06", Time: 102},
	}
}

func TestFileSource_RoundTripAndFetch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBlocks(&buf, testBlocks()))

	path := filepath.Join(t.TempDir(), "blocks.ndjson")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	cfg := config.SourceConfig{Type: config.SourceTypeFile, Path: path}
	src, err := New(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	defer src.Close()

	blocks, err := src.Fetch(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, uint64(3), blocks[0].Height)
	require.Equal(t, []byte{0xaa}, []byte(blocks[0].Receipts[0].Data))
	require.Equal(t, "0xvault", *blocks[0].Receipts[0].Contract)

	blocks, err = src.Fetch(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, uint64(6), blocks[0].Height)

	blocks, err = src.Fetch(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestReadBlocks_RejectsUnordered(t *testing.T) {
	input := strings.Join([]string{
		`{"height":2,"hash":"0x02","time":1,"receipts":[]}`,
		``,
		`{"height":2,"hash":"0x02","time":1,"receipts":[]}`,
	}, "\n")

	_, err := ReadBlocks(strings.NewReader(input))
	require.ErrorContains(t, err, "line 3")

	_, err = ReadBlocks(strings.NewReader(`{"height":`))
	require.ErrorContains(t, err, "line 1")
}
