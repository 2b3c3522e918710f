package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kafuffle/kafuffle-api/models"
	"github.com/kafuffle/kafuffle-api/services"
	"github.com/spf13/cobra"
)

type tailOptions struct {
	server  string
	token   string
	channel uint
	history int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	opts := tailOptions{}
	cmd := &cobra.Command{
		Use:          "kafuffle-tail",
		Short:        "Follow a Kafuffle channel from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.channel == 0 {
				return fmt.Errorf("--channel is required")
			}
			if opts.token == "" {
				return fmt.Errorf("--token or KAFUFFLE_TOKEN is required")
			}
			return tail(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("KAFUFFLE_TOKEN"), "access token")
	cmd.Flags().UintVar(&opts.channel, "channel", 0, "channel id to follow")
	cmd.Flags().IntVar(&opts.history, "history", 50, "number of past messages to show")
	return cmd
}

// tail prints the channel's recent history, then every change from its live
// feed until ctx ends or the server closes the connection.
func tail(ctx context.Context, opts tailOptions, out io.Writer) error {
	base, err := url.Parse(strings.TrimRight(opts.server, "/"))
	if err != nil {
		return fmt.Errorf("invalid --server: %w", err)
	}

	// Subscribe before fetching history so nothing sent in between is missed.
	conn, err := dialFeed(ctx, base, opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	initial, err := fetchHistory(ctx, base, opts)
	if err != nil {
		return err
	}
	store := services.NewMessageStore(initial)
	for _, view := range store.Messages() {
		fmt.Fprintln(out, formatLine(view))
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	events := make(chan services.Event)
	readErr := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			var evt services.Event
			if err := conn.ReadJSON(&evt); err != nil {
				readErr <- err
				return
			}
			events <- evt
		}
	}()

	store.Consume(ctx, events, func(evt services.Event) {
		if view, ok := currentView(store, evt.MessageID); ok {
			fmt.Fprintln(out, formatLine(view))
		}
	})

	if ctx.Err() != nil {
		return nil
	}
	if err := <-readErr; err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("feed closed: %w", err)
	}
	return nil
}

func dialFeed(ctx context.Context, base *url.URL, opts tailOptions) (*websocket.Conn, error) {
	feed := *base
	switch feed.Scheme {
	case "https":
		feed.Scheme = "wss"
	default:
		feed.Scheme = "ws"
	}
	feed.Path = fmt.Sprintf("%s/api/v1/channels/%d/ws", feed.Path, opts.channel)
	feed.RawQuery = url.Values{"access_token": {opts.token}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, feed.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to join channel %d: %s", opts.channel, resp.Status)
		}
		return nil, fmt.Errorf("failed to join channel %d: %w", opts.channel, err)
	}
	return conn, nil
}

func fetchHistory(ctx context.Context, base *url.URL, opts tailOptions) ([]services.MessageView, error) {
	endpoint := fmt.Sprintf("%s/api/v1/channels/%d/messages?limit=%d", base.String(), opts.channel, opts.history)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+opts.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool                   `json:"success"`
		Data    []services.MessageView `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return nil, fmt.Errorf("failed to load history: %s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("failed to load history: %s", resp.Status)
	}
	return envelope.Data, nil
}

// currentView returns a message with its grouping against the current timeline
func currentView(store *services.MessageStore, id string) (services.MessageView, bool) {
	for _, view := range store.Messages() {
		if view.ID == id {
			return view, true
		}
	}
	return services.MessageView{}, false
}

// formatLine renders one message. Grouped continuations drop the sender name.
func formatLine(view services.MessageView) string {
	stamp := view.CreatedAt.Local().Format("15:04:05")
	if view.Deleted {
		return fmt.Sprintf("[%s] %s", stamp, view.Placeholder)
	}

	name := "?"
	if view.Sender != nil {
		name = view.Sender.Name
	}
	content := ""
	if view.Content != nil {
		content = *view.Content
	}
	if len(view.Attachments) > 0 {
		content = strings.TrimSpace(fmt.Sprintf("%s [%d attachment(s)]", content, len(view.Attachments)))
	}

	line := fmt.Sprintf("[%s] %s: %s", stamp, name, content)
	switch {
	case view.MessageType == models.MessageTypeSystem:
		line = fmt.Sprintf("[%s] * %s", stamp, content)
	case view.Grouped:
		line = fmt.Sprintf("[%s]   %s", stamp, content)
	}
	if view.Edited {
		line += " (edited)"
	}
	for _, reaction := range view.Reactions {
		line += fmt.Sprintf(" %s%d", reaction.Emoji, reaction.Count)
	}
	return line
}
