package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"thumbnail-service/internal/dashboard"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/infra/api"
)

var (
	watchServer string
	watchUser   string
	watchToken  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow an owner's jobs over the WebSocket session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		token := watchToken
		if token == "" {
			if watchUser == "" {
				return fmt.Errorf("either --token or --user is required")
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			if token, err = api.NewAuthenticator(a.cfg.Auth.JWTSecret, time.Hour).Mint(watchUser); err != nil {
				return err
			}
		}
		return watch(ctx, cmd.OutOrStdout(), watchServer, token)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:8080", "Base URL of the thumbd API")
	watchCmd.Flags().StringVar(&watchUser, "user", "", "Owner to watch; mints a token from the local config")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "Owner token")
}

func watch(ctx context.Context, out io.Writer, server, token string) error {
	board := dashboard.NewBoard()

	existing, err := fetchJobs(ctx, http.DefaultClient, server, token)
	if err != nil {
		return err
	}
	board.Seed(existing...)
	fmt.Fprintln(out, formatStats(board.Stats()))

	target, err := wsURL(server, token)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var f api.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if f.Type != api.EventJobUpdate || !board.Apply(f.Data) {
			continue
		}
		fmt.Fprintln(out, formatUpdate(f.Data), "|", formatStats(board.Stats()))
	}
}

// fetchJobs loads the first page of jobs as updates so the board starts from
// the persisted state.
func fetchJobs(ctx context.Context, client *http.Client, server, token string) ([]model.JobUpdate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/jobs?limit=100", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list jobs: %s", resp.Status)
	}

	var body struct {
		Jobs []struct {
			ID           string          `json:"id"`
			Status       model.JobStatus `json:"status"`
			Progress     int             `json:"progress"`
			ThumbnailURL string          `json:"thumbnail_url"`
			Error        string          `json:"error"`
		} `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}

	out := make([]model.JobUpdate, 0, len(body.Jobs))
	// oldest first so the board lists newest on top
	for i := len(body.Jobs) - 1; i >= 0; i-- {
		j := body.Jobs[i]
		u := model.JobUpdate{JobID: j.ID, Status: j.Status, Progress: j.Progress, Error: j.Error}
		if j.ThumbnailURL != "" {
			u.Result = &model.ThumbnailResult{
				ThumbnailFileName: strings.TrimPrefix(j.ThumbnailURL, model.ThumbnailURLPrefix),
				ThumbnailURL:      j.ThumbnailURL,
			}
		}
		out = append(out, u)
	}
	return out, nil
}

func wsURL(server, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/api/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func formatUpdate(u model.JobUpdate) string {
	line := fmt.Sprintf("%s %-10s %3d%%", u.JobID, u.Status, u.Progress)
	switch {
	case u.Error != "":
		line += " " + u.Error
	case u.Result != nil:
		line += " " + u.Result.ThumbnailURL
	}
	return line
}

func formatStats(s dashboard.Stats) string {
	return fmt.Sprintf("total=%d queued=%d processing=%d completed=%d failed=%d",
		s.Total, s.Queued, s.Processing, s.Completed, s.Failed)
}
