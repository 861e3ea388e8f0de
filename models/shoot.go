package models

import "time"

// Shoot is a time-boxed scoring session shared by several archers under a short code.
type Shoot struct {
	ID           string         `json:"id" dynamodbav:"id"`
	Code         string         `json:"code" dynamodbav:"code"`
	CreatorName  string         `json:"creatorName" dynamodbav:"creatorName"`
	CreatedAt    time.Time      `json:"createdAt" dynamodbav:"createdAt"`
	ExpiresAt    time.Time      `json:"expiresAt" dynamodbav:"expiresAt"`
	Participants []*Participant `json:"participants" dynamodbav:"participants"`
	LastUpdated  time.Time      `json:"lastUpdated" dynamodbav:"lastUpdated"`
	Version      int64          `json:"version" dynamodbav:"version"`
}

type Participant struct {
	ID                    string    `json:"id" dynamodbav:"id"`
	ArcherName            string    `json:"archerName" dynamodbav:"archerName"`
	RoundName             string    `json:"roundName" dynamodbav:"roundName"`
	TotalScore            int       `json:"totalScore" dynamodbav:"totalScore"`
	ArrowsShot            int       `json:"arrowsShot" dynamodbav:"arrowsShot"`
	CurrentClassification *string   `json:"currentClassification,omitempty" dynamodbav:"currentClassification,omitempty"`
	Finished              bool      `json:"finished" dynamodbav:"finished"`
	PreviousPosition      *int      `json:"previousPosition,omitempty" dynamodbav:"previousPosition,omitempty"`
	CurrentPosition       int       `json:"currentPosition" dynamodbav:"currentPosition"`
	JoinedAt              time.Time `json:"joinedAt" dynamodbav:"joinedAt"`
	LastUpdated           time.Time `json:"lastUpdated" dynamodbav:"lastUpdated"`
}

// IsExpired reports whether the shoot is past its expiry at the given instant.
func (s *Shoot) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// FindParticipant returns the participant with the given archer name, or nil.
func (s *Shoot) FindParticipant(archerName string) *Participant {
	for _, p := range s.Participants {
		if p.ArcherName == archerName {
			return p
		}
	}
	return nil
}

// Leader returns the participant in first position, or nil for an empty shoot.
func (s *Shoot) Leader() *Participant {
	return s.AtPosition(1)
}

func (s *Shoot) AtPosition(position int) *Participant {
	for _, p := range s.Participants {
		if p.CurrentPosition == position {
			return p
		}
	}
	return nil
}

// TotalArrows sums arrows shot across all participants.
func (s *Shoot) TotalArrows() int {
	total := 0
	for _, p := range s.Participants {
		total += p.ArrowsShot
	}
	return total
}

// Clone returns a deep copy so callers never share participant pointers with a store.
func (s *Shoot) Clone() *Shoot {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		pc := *p
		if p.CurrentClassification != nil {
			v := *p.CurrentClassification
			pc.CurrentClassification = &v
		}
		if p.PreviousPosition != nil {
			v := *p.PreviousPosition
			pc.PreviousPosition = &v
		}
		c.Participants[i] = &pc
	}
	return &c
}

// EndOfDay returns the last representable instant of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
