package tunnel

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchName string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow tunnel lifecycle events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watchEvents(ctx)
	},
}

/**
 * Print lifecycle events until interrupted or the server closes the stream
 * @param {context.Context} ctx - cancelled by Ctrl-C
 * @returns {error} connection failure, nil on interrupt or server shutdown
 */
func watchEvents(ctx context.Context) error {
	params := map[string]interface{}{}
	if watchName != "" {
		params["service"] = watchName
	}
	conn, err := rpc.DialWebsocket(ctx, nil, "/api/events", params)
	if err != nil {
		return &unreachableError{err: err}
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Println("Watching tunnel events, press Ctrl-C to stop")
	for {
		var ev models.TunnelEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		printEvent(ev)
	}
}

func printEvent(ev models.TunnelEvent) {
	ts := time.Unix(0, int64(ev.Time*float64(time.Second))).Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s  %-14s %s", ts, ev.Type, ev.ServiceName)
	if ev.State != "" {
		line += fmt.Sprintf(" state=%s", ev.State)
	}
	if ev.URL != "" {
		line += " url=" + ev.URL
	}
	if ev.Reason != "" {
		line += " reason=" + ev.Reason
	}
	fmt.Println(line)
}

func init() {
	watchCmd.Flags().StringVarP(&watchName, "name", "n", "", "Only events of this service")
	tunnelCmd.AddCommand(watchCmd)
}
