package handler

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qofy/quoteflow/internal/docstore"
	"github.com/qofy/quoteflow/internal/eventlog"
	"github.com/qofy/quoteflow/internal/identity"
	"github.com/qofy/quoteflow/internal/kv"
	"github.com/qofy/quoteflow/internal/tokenauth"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "kv")
	engine, err := kv.Open(kv.DefaultConfig(dir), nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	docs := docstore.New(engine)
	events := eventlog.New(engine)
	ident := identity.New(docs)

	tokens, err := tokenauth.New(tokenauth.Config{
		Mode:              tokenauth.ModeHMAC,
		Issuer:            "quoteflow-test",
		Audience:          "quoteflow-api-test",
		TokenTTLSeconds:   900,
		StaticAccessToken: "",
		HMACLocalKeyHex:   "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, err)

	return New(docs, events, ident, tokens, slog.New(slog.NewTextHandler(io.Discard, nil)))
}
