package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"walletlend/storage/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 64
)

// websocketOrigins turns CORS origins into the host patterns the websocket
// handshake checks. An empty list or "*" admits every origin, as the CORS
// middleware does.
func websocketOrigins(allowed []string) []string {
	patterns := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return []string{"*"}
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			origin = parsed.Host
		}
		if origin != "" {
			patterns = append(patterns, origin)
		}
	}
	if len(patterns) == 0 {
		return []string{"*"}
	}
	return patterns
}

// streamEvents upgrades to a websocket and pushes the wallet's
// notifications as JSON text frames. An "after" cursor replays the backlog
// before live entries.
func (mm *MoneyMarket) streamEvents(w http.ResponseWriter, r *http.Request) {
	if mm.events == nil {
		http.NotFound(w, r)
		return
	}
	wallet, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	query, err := parseEventQuery(r, wallet)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	replay := r.URL.Query().Has("after")

	// Subscribe before reading the backlog so nothing falls between them.
	live, cancel := mm.events.Subscribe(wsBuffer)
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: mm.origins})
	if err != nil {
		mm.logger.Warn("websocket accept failed", "wallet", wallet.Hex(), "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := mm.stream(ctx, conn, live, query, replay); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			mm.logger.Warn("event stream failed", "wallet", wallet.Hex(), "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (mm *MoneyMarket) stream(ctx context.Context, conn *websocket.Conn, live <-chan journal.Entry, query journal.Query, replay bool) error {
	cursor := query.AfterSeq
	if replay {
		// Page through the whole backlog before switching to live entries.
		page := query
		page.Limit = mm.replayPage
		for {
			page.AfterSeq = cursor
			backlog, err := mm.events.List(ctx, page)
			if err != nil {
				return err
			}
			for _, entry := range backlog {
				if err := writeEntry(ctx, conn, entry); err != nil {
					return err
				}
				cursor = entry.Seq
			}
			if len(backlog) < page.Limit {
				break
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-live:
			if !ok {
				return nil
			}
			if entry.Wallet != query.Wallet || entry.Seq <= cursor {
				continue
			}
			if query.Type != "" && entry.Type != query.Type {
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			cursor = entry.Seq
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry journal.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
