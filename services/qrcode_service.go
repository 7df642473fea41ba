// services/qrcode_service.go
package services

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// GenerateRoomQR creates a QR code PNG encoding the join URL for a room, so
// a host can hand the room token to an opponent by screen.
func GenerateRoomQR(applicationURL, roomID string, size int) ([]byte, error) {
	joinURL := fmt.Sprintf("%s/join/%s", applicationURL, roomID)
	png, err := qrcode.Encode(joinURL, qrcode.Medium, size)
	if err != nil {
		return nil, err
	}
	return png, nil
}
