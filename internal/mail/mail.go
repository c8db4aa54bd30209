// Package mail はお知らせメールの送信手段を提供する。
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"time"
)

// Message は1通のプレーンテキストメール。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// base64本文の1行あたりの最大文字数（RFC 2045）。
const bodyLineLength = 76

// BuildMessage はRFC 5322形式のメッセージを組み立てる。
// 件名はUTF-8のBエンコーディング、本文はbase64で送る。
func BuildMessage(from string, msg Message, date time.Time) []byte {
	var buf bytes.Buffer

	headers := [][2]string{
		{"From", from},
		{"To", msg.To},
		{"Subject", mime.BEncoding.Encode("UTF-8", msg.Subject)},
		{"Date", date.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
		{"Content-Transfer-Encoding", "base64"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.Body))
	for len(encoded) > bodyLineLength {
		buf.WriteString(encoded[:bodyLineLength])
		buf.WriteString("\r\n")
		encoded = encoded[bodyLineLength:]
	}
	if encoded != "" {
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}

	return buf.Bytes()
}

// LogSender はSMTPが未設定の環境で使う送信手段。
// 実際には送信せず、宛先と件名をログに残す。
type LogSender struct {
	Logger *slog.Logger
}

// Send はメッセージの概要をログに出力する。
func (s LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("SMTP未設定のためメール送信をスキップしました",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)),
	)
	return nil
}
