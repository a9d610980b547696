package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/skip2/go-qrcode"

	"ms-reservation/internal/models"
)

// QRGenerator renders a booking confirmation as a QR PNG. The payload is
// AES-encrypted so the code only verifies at the venue, not by inspection.
type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// confirmationPayload is what the scanner decrypts at the door.
type confirmationPayload struct {
	BookingID string `json:"booking_id"`
	Name      string `json:"name"`
	Persons   int    `json:"persons"`
	SlotID    string `json:"slot_id"`
	Status    string `json:"status"`
}

func (q *QRGenerator) GenerateConfirmationQR(booking models.Booking) ([]byte, error) {
	data, err := json.Marshal(confirmationPayload{
		BookingID: booking.BookingID,
		Name:      booking.Name,
		Persons:   booking.Persons,
		SlotID:    booking.SlotID,
		Status:    booking.Status,
	})
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptAES(data, q.secret)
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
