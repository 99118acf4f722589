package services

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"daytrader/interfaces"
)

var (
	_ interfaces.NotificationSink = (*LogNotification)(nil)
	_ interfaces.NotificationSink = (*TelegramNotification)(nil)
)

const (
	telegramAPIBase = "https://api.telegram.org"
	pushoverAPIURL  = "https://api.pushover.net/1/messages.json"

	notifyRetries    = 3
	notifyRetryDelay = 10 * time.Second
)

// LogNotification is a no-op sink that only writes messages to the log.
type LogNotification struct {
	logger *logrus.Logger
}

// NewLogNotification creates a log-only notification sink.
func NewLogNotification() *LogNotification {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return &LogNotification{logger: logger}
}

// Notify logs the message at info level.
func (n *LogNotification) Notify(message string) {
	n.logger.WithField("message", message).Info("Notifying")
}

// ErrNotify logs the message at error level.
func (n *LogNotification) ErrNotify(message string) {
	n.logger.WithField("message", message).Error("Notifying")
}

// TelegramNotification delivers messages to a Telegram chat, falling back to
// Pushover when an error notification cannot be delivered. Delivery is
// fire-and-forget: failures are logged and swallowed so they can never abort
// the orchestration flow.
type TelegramNotification struct {
	client   *resty.Client
	botToken string
	chatID   string

	pushoverToken string
	pushoverUser  string

	logger *logrus.Logger
}

// NewTelegramNotification creates a Telegram sink. The Pushover credentials
// are the backup channel for error notifications and may be empty.
func NewTelegramNotification(botToken, chatID, pushoverToken, pushoverUser string) *TelegramNotification {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	client := resty.New().
		SetBaseURL(telegramAPIBase).
		SetTimeout(30 * time.Second)

	return &TelegramNotification{
		client:        client,
		botToken:      botToken,
		chatID:        chatID,
		pushoverToken: pushoverToken,
		pushoverUser:  pushoverUser,
		logger:        logger,
	}
}

// Notify sends the message to the configured Telegram chat.
func (n *TelegramNotification) Notify(message string) {
	if err := n.sendTelegram(message); err != nil {
		n.logger.WithError(err).Warn("Telegram notification not sent")
	}
}

// ErrNotify sends an error message to Telegram and falls back to Pushover if
// Telegram delivery fails.
func (n *TelegramNotification) ErrNotify(message string) {
	n.logger.WithField("message", message).Error("EXCEPTION")
	if err := n.sendTelegram(message); err != nil {
		n.logger.WithError(err).Error("Error notification via Telegram failed, trying Pushover")
		n.sendPushover(fmt.Sprintf("ERR: %s", message))
	}
}

func (n *TelegramNotification) sendTelegram(message string) error {
	resp, err := n.client.R().
		SetFormData(map[string]string{
			"chat_id": n.chatID,
			"text":    message,
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.botToken))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("telegram sendMessage: status %d", resp.StatusCode())
	}
	n.logger.WithField("message", message).Info("Telegram message sent")
	return nil
}

// sendPushover posts to the Pushover message API with a small bounded retry.
func (n *TelegramNotification) sendPushover(message string) {
	if n.pushoverToken == "" || n.pushoverUser == "" {
		n.logger.Warn("Pushover not configured, dropping notification")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= notifyRetries; attempt++ {
		resp, err := n.client.R().
			SetFormData(map[string]string{
				"token":   n.pushoverToken,
				"user":    n.pushoverUser,
				"message": message,
			}).
			Post(pushoverAPIURL)
		if err == nil && !resp.IsError() {
			return
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("pushover: status %d", resp.StatusCode())
		}
		if attempt < notifyRetries {
			n.logger.WithField("attempt", attempt).Info("Retrying Pushover notification")
			time.Sleep(notifyRetryDelay)
		}
	}
	n.logger.WithError(lastErr).WithField("message", message).Warn("Message not sent")
}
