package eventbus

import (
	"context"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
)

func TestKafkaGroupReaderCoversAllTopics(t *testing.T) {
	k := NewKafka(config.KafkaConfig{Brokers: []string{"localhost:9092"}, TopicPrefix: "sm."}, Options{})
	defer k.Close()
	noop := func(context.Context, Event) error { return nil }

	subs := []Subscription{
		{Pattern: "post.deleted", Group: "search-service", Handler: noop},
		{Pattern: "post.created", Group: "search-service", Handler: noop},
		{Pattern: "post.created", Group: "search-service", Handler: noop},
	}
	cfg := k.readerConfig("search-service", subs)
	if cfg.GroupID != "search-service" || cfg.Topic != "" {
		t.Errorf("expected a group reader, got group %q topic %q", cfg.GroupID, cfg.Topic)
	}
	if want := []string{"sm.post.created", "sm.post.deleted"}; !reflect.DeepEqual(cfg.GroupTopics, want) {
		t.Errorf("GroupTopics = %v, want %v", cfg.GroupTopics, want)
	}

	if got := subscribedTo(subs, "post.created"); len(got) != 2 {
		t.Errorf("expected both post.created handlers, got %d", len(got))
	}
	if got := subscribedTo(subs, "post.updated"); len(got) != 0 {
		t.Errorf("unsubscribed topic matched %d handlers", len(got))
	}
}

func TestKafkaRejectsWildcards(t *testing.T) {
	k := NewKafka(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, Options{})
	defer k.Close()
	err := k.Subscribe(context.Background(), Subscription{
		Pattern: "post.*",
		Group:   "search-service",
		Handler: func(context.Context, Event) error { return nil },
	})
	if err == nil {
		t.Fatal("expected wildcard subscription to fail")
	}
	if len(k.groups) != 0 {
		t.Error("failed subscription must not start a reader")
	}
}
