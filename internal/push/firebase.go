package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseMessenger sends data messages through the FCM v1 API. Calls use
// data-only messages with high priority so the client can render its own
// incoming-call UI even when backgrounded.
type FirebaseMessenger struct {
	client *messaging.Client
}

func NewFirebaseMessenger(credentialsPath, projectID string) (*FirebaseMessenger, error) {
	ctx := context.Background()

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID},
		option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating messaging client: %w", err)
	}

	return &FirebaseMessenger{client: client}, nil
}

func (m *FirebaseMessenger) SendCallMessage(ctx context.Context, deviceToken string, data *CallPushData) error {
	message := &messaging.Message{
		Token: deviceToken,
		Data: map[string]string{
			"type":        "call_incoming",
			"call_id":     data.CallID,
			"caller_id":   data.CallerID,
			"caller_name": data.CallerName,
			"call_type":   data.CallType,
			"room_name":   data.RoomName,
			"token":       data.Token,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Title:     fmt.Sprintf("Incoming %s call", data.CallType),
				Body:      fmt.Sprintf("From %s", data.CallerName),
				ChannelID: "calls",
				Priority:  messaging.PriorityMax,
			},
		},
	}

	if _, err := m.client.Send(ctx, message); err != nil {
		return fmt.Errorf("sending fcm message: %w", err)
	}
	return nil
}
