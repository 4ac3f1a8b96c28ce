package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService issues short-lived QR codes that deep-link a flagged
// transaction's verification session into the banking app. Codes are
// single-use and expire from Redis after five minutes.
type QRService struct {
	redis *redis.Client
}

func NewQRService(redisClient *redis.Client) *QRService {
	return &QRService{redis: redisClient}
}

// GenerateSessionQR returns the opaque code and a base64 PNG for a
// verification session.
func (s *QRService) GenerateSessionQR(ctx context.Context, sessionID string) (string, string, error) {
	qrData := map[string]any{
		"session_id": sessionID,
		"timestamp":  time.Now().Unix(),
		"nonce":      s.generateNonce(),
	}

	jsonData, err := json.Marshal(qrData)
	if err != nil {
		return "", "", err
	}

	qrCode := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("verifyqr:%s", qrCode)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(qrCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return qrCode, qrImage, nil
}

// ProcessQRCode redeems a scanned code and returns its session payload.
// The code is consumed on first use.
func (s *QRService) ProcessQRCode(ctx context.Context, qrData string) (map[string]any, error) {
	key := fmt.Sprintf("verifyqr:%s", qrData)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrQRCodeNotFound
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
