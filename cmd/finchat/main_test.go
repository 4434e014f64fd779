package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/service/chatsync"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	cfg, err := loadConfig(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("loadConfig err: %v", err)
	}
	if cfg.Server != defaultServer || cfg.Cache != filepath.Join(dir, ".finchat", "cache.db") {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	path := filepath.Join(dir, configName)
	data := "server = \"http://support.local:9000\"\npoll_interval = \"500ms\"\nwrite_mode = \"conditional\"\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig err: %v", err)
	}
	interval, _ := cfg.pollInterval()
	mode, _ := cfg.writeMode()
	if cfg.Server != "http://support.local:9000" || interval != 500*time.Millisecond || mode != chatsync.WriteConditional {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("default log level lost: %q", cfg.LogLevel)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cases := map[string]string{
		"poll_interval": "poll_interval = \"soon\"\n",
		"write_mode":    "write_mode = \"merge\"\n",
	}
	for key, data := range cases {
		path := filepath.Join(dir, key+".toml")
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := loadConfig(path); err == nil || !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error naming %s, got %v", key, err)
		}
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, configName)
	cfg := defaultConfig(dir)
	cfg.Server = "http://other:8080"
	if err := saveConfig(path, cfg); err != nil {
		t.Fatalf("saveConfig err: %v", err)
	}
	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig err: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip mismatch: %+v != %+v", got, cfg)
	}
}

func TestTranscriptPrintsEachMessageOnce(t *testing.T) {
	var buf bytes.Buffer
	view := newTranscript(&buf)

	sent := chat.Message{ID: "1700000000000", Sender: chat.SenderUser, Name: "Ann", Text: "hello", Time: "10:00", Timestamp: 1700000000000}
	view.handle(chatsync.Event{Type: chatsync.EventMessagesChanged, Seq: 1, Messages: []chat.Message{sent}})

	typing := chat.Message{ID: "typing-1", Sender: chat.SenderTyping, Name: "Emma Thompson"}
	view.handle(chatsync.Event{Type: chatsync.EventMessagesChanged, Seq: 2, Messages: []chat.Message{sent, typing}})
	view.handle(chatsync.Event{Type: chatsync.EventMessagesChanged, Seq: 2, Messages: []chat.Message{sent, typing}})

	stored := sent
	stored.ID = "2"
	reply := chat.Message{ID: "3", Sender: chat.SenderAgent, Name: "Emma Thompson", Text: "on it", Time: "10:01", Timestamp: 1700000060000}
	view.handle(chatsync.Event{Type: chatsync.EventMessagesChanged, Seq: 3, Messages: []chat.Message{stored, reply}})

	want := "[10:00] Ann: hello\n" +
		"  Emma Thompson is typing...\n" +
		"[10:01] Emma Thompson: on it\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestPrintInbox(t *testing.T) {
	var buf bytes.Buffer
	printInbox(&buf, []chat.Conversation{{Key: "a@b.com", Name: "Ann Lee", Time: "10:00", LastMessage: "help", Unread: 1}})
	out := buf.String()
	if !strings.Contains(out, "Ann Lee") || !strings.Contains(out, "*") {
		t.Fatalf("unexpected inbox output %q", out)
	}
	if truncate("abcdefghij", 6) != "abc..." {
		t.Fatalf("unexpected truncate %q", truncate("abcdefghij", 6))
	}
}
