package models

import "time"

// SaveRecord is the metadata stored beside one save blob.
type SaveRecord struct {
	GameID    string `json:"game_id" yaml:"game_id"`
	Filename  string `json:"filename" yaml:"filename"`
	FileSize  int64  `json:"filesize" yaml:"filesize"`
	UpdatedAt int64  `json:"updated_at" yaml:"updated_at"`
	SHA256    string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// UpdatedTime returns UpdatedAt as a UTC time.
func (r SaveRecord) UpdatedTime() time.Time {
	return time.Unix(r.UpdatedAt, 0).UTC()
}

// SaveKey identifies one (user, game) slot. Construct it with NewSaveKey so
// both components are validated before they reach a store.
type SaveKey struct {
	UserID string
	GameID string
}

// NewSaveKey validates both components and returns the key.
func NewSaveKey(userID, gameID string) (SaveKey, error) {
	user, err := NormalizeUserID(userID)
	if err != nil {
		return SaveKey{}, err
	}
	game, err := ParseGameID(gameID)
	if err != nil {
		return SaveKey{}, err
	}
	return SaveKey{UserID: user, GameID: game}, nil
}

// String is used in logs only.
func (k SaveKey) String() string {
	return k.UserID + "/" + k.GameID
}
