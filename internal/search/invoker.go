package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/relay/internal/ledger"
)

// Fixed replies returned to the model in place of search results.
const (
	MsgNoQueries     = "Error: No se proporcionaron consultas de búsqueda."
	MsgNotConfigured = "Error: No se pudo realizar la búsqueda porque el servicio no está configurado."
	MsgNoCredential  = "Error: No se pudo obtener una clave de API de Tavily."
	MsgFailed        = "Error: No se pudieron completar las búsquedas."
)

// Credentials hands out one search credential per invocation and
// records its use. *ledger.Ledger satisfies it.
type Credentials interface {
	Acquire(ctx context.Context) (string, error)
}

// InvokerConfig holds the per-query parameters sent to the provider.
type InvokerConfig struct {
	Depth      string
	MaxResults int
}

// Invoker runs batches of queries against a Provider.
type Invoker struct {
	provider    Provider
	credentials Credentials
	cfg         InvokerConfig
	logger      *slog.Logger
}

// NewInvoker creates an Invoker.
func NewInvoker(provider Provider, credentials Credentials, cfg InvokerConfig, logger *slog.Logger) *Invoker {
	if cfg.Depth == "" {
		cfg.Depth = "advanced"
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{provider: provider, credentials: credentials, cfg: cfg, logger: logger}
}

// outcome is one query's result or error.
type outcome struct {
	resp *Response
	err  error
}

// Search runs every query in parallel under one credential and returns
// the consolidated text, in query order. It never returns an error:
// failures become text the model can read. The credential ledger is
// charged exactly once per call, however many queries fail.
func (inv *Invoker) Search(ctx context.Context, queries []string) string {
	if len(queries) == 0 {
		return MsgNoQueries
	}

	cred, err := inv.credentials.Acquire(ctx)
	if errors.Is(err, ledger.ErrNoCredentials) {
		inv.logger.Warn("search requested but no credentials are configured")
		return MsgNotConfigured
	}
	if err != nil {
		inv.logger.Error("failed to acquire search credential", "error", err)
		return MsgNoCredential
	}

	inv.logger.Info("running searches",
		"provider", inv.provider.Name(),
		"queries", queries,
		"credential", ledger.Redact(cred),
	)

	outcomes, err := inv.dispatch(ctx, cred, queries)
	if err != nil {
		inv.logger.Error("search dispatch failed", "error", err)
		return MsgFailed
	}

	text := format(queries, outcomes)
	inv.logger.Debug("search results consolidated", "bytes", len(text))
	return text
}

// dispatch runs one goroutine per query. Query errors are stored in the
// outcome and never cancel siblings; only a panic fails the batch.
func (inv *Invoker) dispatch(ctx context.Context, cred string, queries []string) ([]outcome, error) {
	outcomes := make([]outcome, len(queries))

	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("search %q panicked: %v", q, r)
				}
			}()
			resp, qerr := inv.provider.Search(ctx, Request{
				Credential:    cred,
				Query:         q,
				Depth:         inv.cfg.Depth,
				IncludeAnswer: true,
				MaxResults:    inv.cfg.MaxResults,
			})
			if qerr != nil {
				inv.logger.Warn("search query failed", "query", q, "error", qerr)
			}
			outcomes[i] = outcome{resp: resp, err: qerr}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// format renders per-query outcomes as the block handed to the model.
func format(queries []string, outcomes []outcome) string {
	var sb strings.Builder
	sb.WriteString("Resultados de las búsquedas múltiples:\n\n")

	for i, q := range queries {
		fmt.Fprintf(&sb, "--- Búsqueda %d: \"%s\" ---\n", i+1, q)

		o := outcomes[i]
		if o.err != nil {
			fmt.Fprintf(&sb, "Error en esta búsqueda: %v\n\n", o.err)
			continue
		}
		resp := o.resp
		if resp == nil {
			resp = &Response{}
		}

		answer := resp.Answer
		if answer == "" {
			answer = "No disponible"
		}
		fmt.Fprintf(&sb, "Respuesta directa: %s\n", answer)

		if len(resp.Results) > 0 {
			sb.WriteString("Fuentes:\n")
			for j, r := range resp.Results {
				fmt.Fprintf(&sb, "%d. [%s](%s):\n   - %s\n", j+1, r.Title, r.URL, r.Content)
			}
		} else {
			sb.WriteString("No se encontraron fuentes.\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
