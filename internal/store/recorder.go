package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/jamlink-audio/jamlink/internal/quality"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

// Recorder persists session history: peer join/leave events and published
// quality readings. It is one of the displays fanned out from the registry.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// StartSession opens a history record for the local rendezvous identity.
func (r *Recorder) StartSession(localPeerID string) {
	rec := SessionRecord{LocalPeerID: localPeerID, StartedAt: time.Now()}
	if err := r.db.Create(&rec).Error; err != nil {
		logger.Log.Errorf("Failed to record session start: %v", err)
	}
}

// EndSession closes the most recent open record for the identity.
func (r *Recorder) EndSession(localPeerID string) {
	now := time.Now()
	err := r.db.Model(&SessionRecord{}).
		Where("local_peer_id = ? AND ended_at IS NULL", localPeerID).
		Update("ended_at", &now).Error
	if err != nil {
		logger.Log.Errorf("Failed to record session end: %v", err)
	}
}

func (r *Recorder) SetStatus(text string) {}

func (r *Recorder) AddPeer(peerID string) {
	if err := r.db.Create(&PeerEvent{PeerID: peerID, Event: "join"}).Error; err != nil {
		logger.Log.Errorf("Failed to record peer join: %v", err)
	}
}

func (r *Recorder) RemovePeer(peerID string) {
	if err := r.db.Create(&PeerEvent{PeerID: peerID, Event: "leave"}).Error; err != nil {
		logger.Log.Errorf("Failed to record peer leave: %v", err)
	}
}

func (r *Recorder) UpdateQuality(peerID string, s quality.Sample) {
	// Provisional readings are placeholders, not measurements.
	if s.Provisional {
		return
	}
	snap := QualitySnapshot{
		PeerID:   peerID,
		RTTMs:    s.RTTMs,
		JitterMs: s.JitterMs,
		Class:    string(s.Class),
	}
	if err := r.db.Create(&snap).Error; err != nil {
		logger.Log.Errorf("Failed to record quality snapshot: %v", err)
	}
}

func (r *Recorder) Chat(peerID, message string) {}

// RecentSessions returns the newest session records, newest first.
func (r *Recorder) RecentSessions(limit int) ([]SessionRecord, error) {
	var recs []SessionRecord
	err := r.db.Order("started_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// QualityHistory returns the newest quality readings for one peer.
func (r *Recorder) QualityHistory(peerID string, limit int) ([]QualitySnapshot, error) {
	var snaps []QualitySnapshot
	err := r.db.Where("peer_id = ?", peerID).
		Order("created_at DESC").Limit(limit).Find(&snaps).Error
	return snaps, err
}

// PeerEvents returns the newest join/leave events across all peers.
func (r *Recorder) PeerEvents(limit int) ([]PeerEvent, error) {
	var events []PeerEvent
	err := r.db.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}
