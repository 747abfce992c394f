package pipeline

import "time"

type ChannelSnapshot struct {
	Label         string `json:"label"`
	Chunks        uint64 `json:"chunks"`
	SendErrors    uint64 `json:"send_errors"`
	Transcripts   uint64 `json:"transcripts"`
	ServiceErrors uint64 `json:"service_errors"`
	Buffered      int    `json:"buffered"`
	Dropped       uint64 `json:"dropped"`
}

// Snapshot is the point-in-time view reported by the control bus and the
// status server.
type Snapshot struct {
	Status    Status            `json:"status"`
	Since     time.Time         `json:"since"`
	Pending   int               `json:"pending"`
	Threshold int               `json:"threshold"`
	Flushed   uint64            `json:"flushed"`
	Channels  []ChannelSnapshot `json:"channels"`
}

func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	snap := Snapshot{Status: p.status, Since: p.since}
	p.mu.Unlock()

	snap.Pending = p.agg.Pending()
	snap.Threshold = p.agg.Threshold()
	snap.Flushed = p.agg.Flushed()

	for _, ch := range p.channels {
		st := p.stats[ch.Label]
		cs := ChannelSnapshot{
			Label:         ch.Label.String(),
			Chunks:        st.chunks.Load(),
			SendErrors:    st.sendErrors.Load(),
			Transcripts:   st.transcripts.Load(),
			ServiceErrors: st.serviceErrors.Load(),
		}
		if ch.Buffer != nil {
			cs.Buffered = ch.Buffer.Len()
			cs.Dropped = ch.Buffer.Dropped()
		}
		snap.Channels = append(snap.Channels, cs)
	}
	return snap
}
