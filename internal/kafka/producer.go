package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ms-reservation/internal/models"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer}
}

// bookingEvent is the wire envelope for reservation lifecycle events.
type bookingEvent struct {
	Type    string         `json:"type"`
	Booking models.Booking `json:"booking"`
}

func (p *Producer) publish(eventType string, booking models.Booking) error {
	msgBytes, err := json.Marshal(bookingEvent{Type: eventType, Booking: booking})
	if err != nil {
		return err
	}

	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(booking.BookingID),
			Value: msgBytes,
		},
	)
}

// PublishBookingCreated streams the reservation event to Kafka
func (p *Producer) PublishBookingCreated(booking models.Booking) error {
	return p.publish("booking_created", booking)
}

// PublishBookingCancelled streams the cancellation event to Kafka
func (p *Producer) PublishBookingCancelled(booking models.Booking) error {
	return p.publish("booking_cancelled", booking)
}

// PublishBookingCompleted streams the completion event to Kafka
func (p *Producer) PublishBookingCompleted(booking models.Booking) error {
	return p.publish("booking_completed", booking)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
