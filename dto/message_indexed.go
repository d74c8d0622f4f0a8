package dto

import "time"

// MessageIndexed is published once per first-seen message so downstream
// consumers can follow the index without polling it.
type MessageIndexed struct {
	AccountID         string     `json:"accountId"`
	OwnerID           string     `json:"ownerId"`
	ProviderMessageID string     `json:"providerMessageId"`
	Folder            string     `json:"folder"`
	Direction         string     `json:"direction"`
	Subject           string     `json:"subject"`
	FromAddress       string     `json:"fromAddress"`
	ReceivedAt        *time.Time `json:"receivedAt,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
}
