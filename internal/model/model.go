package model

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists the tables created on Init, parents first.
var DatabaseModels = []any{
	&Track{},
	&Point{},
	&TrackLabel{},
}

// Track is one recorded route. EndedAt is nil while the track is active.
type Track struct {
	ID        string   `json:"id" gorm:"primaryKey;type:text"`
	Distance  *float64 `json:"distance"`
	StartedAt int64    `json:"startedAt" gorm:"not null;index:idx_tracks_started_at"`
	EndedAt   *int64   `json:"endedAt"`
}

func (Track) TableName() string {
	return "tracks"
}

// Point is a persisted fix. (TrackID, SegmentIndex, Ts) is the dedup key.
type Point struct {
	TrackID      string   `json:"trackId" gorm:"primaryKey;type:text;index:idx_points_track_seg_ts,priority:1"`
	SegmentIndex int      `json:"segmentIndex" gorm:"primaryKey;autoIncrement:false;index:idx_points_track_seg_ts,priority:2"`
	Ts           int64    `json:"ts" gorm:"primaryKey;autoIncrement:false;index:idx_points_track_seg_ts,priority:3"`
	Latitude     float64  `json:"latitude" gorm:"not null"`
	Longitude    float64  `json:"longitude" gorm:"not null"`
	Altitude     *float64 `json:"altitude"`
	Accuracy     *float64 `json:"accuracy"`
	Speed        *float64 `json:"speed"`

	Track *Track `json:"-" gorm:"foreignKey:TrackID;references:ID;constraint:OnDelete:CASCADE"`
}

func (Point) TableName() string {
	return "points"
}

// TrackLabel holds the optional user label of a track. No row means no label.
type TrackLabel struct {
	TrackID string  `json:"trackId" gorm:"primaryKey;type:text"`
	Label   *string `json:"label"`
}

func (TrackLabel) TableName() string {
	return "track_labels"
}
