package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
)

// AlertNotifier emails the fraud team when a check crosses the alert
// threshold. Delivery goes through a circuit breaker so a degraded email
// provider cannot slow down the payment path; alerts lost while the
// breaker is open show up in the admin review queue anyway.
type AlertNotifier struct {
	logger   *zap.Logger
	config   config.AlertConfig
	client   *sendgrid.Client
	breaker  *gobreaker.CircuitBreaker
	mockMode bool
}

// NewAlertNotifier creates an alert notifier. Without an API key, or in
// development, alerts are logged instead of sent.
func NewAlertNotifier(cfg config.AlertConfig, logger *zap.Logger) *AlertNotifier {
	mockMode := cfg.Environment == "development" || cfg.APIKey == ""

	var client *sendgrid.Client
	if !mockMode {
		client = sendgrid.NewSendClient(cfg.APIKey)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alert-email",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("alert breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &AlertNotifier{
		logger:   logger,
		config:   cfg,
		client:   client,
		breaker:  breaker,
		mockMode: mockMode,
	}
}

// NotifyHighRisk sends a summary of the check to the configured recipient.
func (n *AlertNotifier) NotifyHighRisk(ctx context.Context, check *entities.RiskCheck) error {
	subject := fmt.Sprintf("[%s] Risk alert: score %.0f for user %s",
		strings.ToUpper(string(check.RiskLevel)), check.RiskScore, check.UserID)
	body := buildAlertBody(check)

	if n.mockMode {
		n.logger.Info("risk alert sent (MOCK)",
			zap.String("check_id", check.ID.String()),
			zap.String("subject", subject),
		)
		return nil
	}

	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.send(ctx, subject, body)
	})
	return err
}

func (n *AlertNotifier) send(ctx context.Context, subject, body string) error {
	from := mail.NewEmail(n.config.FromName, n.config.FromEmail)
	to := mail.NewEmail("", n.config.RecipientEmail)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := n.client.SendWithContext(ctxWithTimeout, message)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("alert delivery error: status %d", response.StatusCode)
	}
	return nil
}

func buildAlertBody(check *entities.RiskCheck) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Risk check %s\n", check.ID)
	fmt.Fprintf(&b, "User: %s\n", check.UserID)
	if check.PaymentID != nil {
		fmt.Fprintf(&b, "Payment: %s\n", check.PaymentID)
	}
	fmt.Fprintf(&b, "Score: %.1f (%s)\n", check.RiskScore, check.RiskLevel)
	fmt.Fprintf(&b, "Payment blocked: %t\n\n", check.PaymentBlocked)
	b.WriteString("Triggered rules:\n")
	for _, rule := range check.TriggeredRules {
		fmt.Fprintf(&b, "  - %s (+%.1f)\n", rule.Rule, rule.Points)
	}
	return b.String()
}
