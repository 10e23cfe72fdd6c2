package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/config"
	"lrnr-quiz-service/internal/domain"
)

// QuizCompletedType is the routing key of committed submissions.
const QuizCompletedType = "quiz.completed"

// Envelope is the message body on the exchange.
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Payload    interface{} `json:"payload"`
}

// QuizCompleted is published once per committed, non-replayed submission.
type QuizCompleted struct {
	UserID       string           `json:"userId"`
	Username     string           `json:"username"`
	Topic        string           `json:"topic"`
	Expertise    domain.Expertise `json:"expertise"`
	NumQuestions int              `json:"numQuestions"`
	Score        int              `json:"score"`
	BestScore    int              `json:"bestScore"`
	NewBest      bool             `json:"newBest"`
	Streak       int              `json:"streak"`
	Experience   int              `json:"experience"`
	Level        int              `json:"level"`
	ActivityDate domain.Date      `json:"activityDate"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	now      func() time.Time
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(amqpURL, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange, now: time.Now}, nil
}

func (p *Publisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	body, err := json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: p.now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	config.WithContext(ctx).WithField("event", eventType).Debug("publishing event")
	return p.channel.Publish(p.exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// OnCommit publishes a quiz.completed event for the committed submission.
func (p *Publisher) OnCommit(ctx context.Context, ev app.CommitEvent) error {
	return p.Publish(ctx, QuizCompletedType, QuizCompleted{
		UserID:       ev.Account.UserID,
		Username:     ev.Account.Username,
		Topic:        ev.Submission.Topic,
		Expertise:    ev.Submission.Expertise,
		NumQuestions: ev.Submission.NumQuestions,
		Score:        ev.Submission.TotalPoints,
		BestScore:    ev.Result.BestScore,
		NewBest:      ev.Result.NewBest,
		Streak:       ev.Result.Streak,
		Experience:   ev.Result.Experience,
		Level:        ev.Result.Level,
		ActivityDate: ev.Result.ActivityDate,
	})
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
