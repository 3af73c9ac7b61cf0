package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReaderConfig holds the Kafka group consumer settings.
type ReaderConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	ClientCert    string
	ClientCertKey string
}

// NewDialer returns a dialer, with client TLS when a certificate is set.
func NewDialer(cfg ReaderConfig) (*kafka.Dialer, error) {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.ClientCert == "" && cfg.ClientCertKey == "" {
		return dialer, nil
	}

	cert, err := tls.X509KeyPair([]byte(cfg.ClientCert), []byte(cfg.ClientCertKey))
	if err != nil {
		return nil, fmt.Errorf("load kafka client certificate: %w", err)
	}
	dialer.TLS = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return dialer, nil
}

// NewReader creates a consumer-group reader over the configured topics.
func NewReader(cfg ReaderConfig, dialer *kafka.Dialer) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka group id is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("no kafka topics configured")
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		Dialer:      dialer,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	}), nil
}

// BrokerCheck returns a health check that succeeds when any broker accepts
// a connection.
func BrokerCheck(dialer *kafka.Dialer, brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, broker := range brokers {
			conn, err := dialer.DialContext(ctx, "tcp", broker)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", broker, err))
				continue
			}
			_ = conn.Close()
			return nil
		}
		if len(errs) == 0 {
			return errors.New("no kafka brokers configured")
		}
		return errors.Join(errs...)
	}
}
