// Command flowwatch tails a predictord event feed: flow transitions,
// unlocked predictions, schedule refreshes and errors, one line each.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/streaming"
)

func main() {
	var (
		feedURL = flag.String("url", "ws://127.0.0.1:8080/ws", "predictord websocket feed URL")
		events  = flag.String("events", "transition,prediction,schedule,error", "comma-separated event types to watch")
		asJSON  = flag.Bool("json", false, "print raw event JSON instead of one-line summaries")
	)
	flag.Parse()

	var filter []streaming.EventType
	for _, e := range strings.Split(*events, ",") {
		if e = strings.TrimSpace(e); e != "" {
			filter = append(filter, streaming.EventType(e))
		}
	}

	sub := streaming.NewSubscriber(streaming.SubscriberConfig{
		URL:    *feedURL,
		Events: filter,
	})
	sub.OnStateChange(func(old, new streaming.SubscriberState) {
		log.Printf("[FEED] %s -> %s", old, new)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sub.Connect(ctx); err != nil {
		log.Fatalf("[FEED] Connect failed: %v", err)
	}
	defer sub.Close()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	for event := range sub.Events() {
		if *asJSON {
			raw, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Println(string(raw))
			continue
		}
		fmt.Println(summarize(event))
	}
}

func summarize(event streaming.Event) string {
	stamp := event.Timestamp.Format("15:04:05")

	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return fmt.Sprintf("%s %-11s", stamp, event.Type)
	}

	switch event.Type {
	case streaming.EventTypeTransition:
		line := fmt.Sprintf("%s transition  event=%v %v -> %v",
			stamp, data["event_id"], data["from"], data["to"])
		if msg, ok := data["error"].(string); ok && msg != "" {
			line += " (" + msg + ")"
		}
		return line

	case streaming.EventTypePrediction:
		return fmt.Sprintf("%s prediction  event=%v unlocked", stamp, data["event_id"])

	case streaming.EventTypeSchedule:
		return fmt.Sprintf("%s schedule    refreshed, %v games", stamp, data["games"])

	case streaming.EventTypeError:
		return fmt.Sprintf("%s error       %v: %v", stamp, data["context"], data["error"])

	default:
		return fmt.Sprintf("%s %-11s %v", stamp, event.Type, event.Data)
	}
}
