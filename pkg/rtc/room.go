package rtc

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"
	protoutils "github.com/livekit/protocol/utils"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/telemetry/prometheus"
	"github.com/livekit/room-coordinator/pkg/utils"
)

const (
	defaultDepartedCacheSize = 1024
	defaultUpdateInterval    = 400 * time.Millisecond
)

type RoomParams struct {
	Name   string
	Audio  config.AudioConfig
	Room   config.RoomConfig
	Logger logger.Logger
}

// change describes one mutation handled by the ops queue
type change struct {
	cause         types.NotificationCause
	participantID types.ParticipantID
	source        types.TrackSource
	// structural changes always notify, activity changes only when the outcome moved
	force           bool
	speakingChanged []types.ParticipantID
}

// Room coordinates the participants, tracks and speaker activity of one session.
//
// Every mutation runs on the room's ops queue in arrival order. Readers get immutable
// snapshots and never touch the registries.
type Room struct {
	params RoomParams
	logger logger.Logger

	opsQueue *utils.OpsQueue

	// owned by opsQueue
	participants *ParticipantRegistry
	tracks       *TrackRegistry
	speakers     *SpeakerTracker
	selector     PrimarySpeakerSelector
	departed     *lru.Cache[types.ParticipantID, time.Time]
	seq          uint64
	lastActive   []types.ParticipantID

	bus      *EventBus
	snapshot atomic.Pointer[types.RoomSnapshot]

	staleLogger utils.CountedLogger

	startedAt time.Time
	closed    core.Fuse

	lock    sync.Mutex
	onClose []func(r *Room)
}

func NewRoom(params RoomParams) *Room {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Name == "" {
		params.Name = protoutils.NewGuid(protoutils.RoomPrefix)
	}
	lgr := params.Logger.WithValues("room", params.Name)

	departedSize := params.Room.DepartedCacheSize
	if departedSize <= 0 {
		departedSize = defaultDepartedCacheSize
	}
	// only fails on a non-positive size
	departed, _ := lru.New[types.ParticipantID, time.Time](departedSize)

	r := &Room{
		params:       params,
		logger:       lgr,
		opsQueue:     utils.NewOpsQueue(lgr, "room"),
		participants: NewParticipantRegistry(),
		tracks:       NewTrackRegistry(),
		speakers: NewSpeakerTracker(SpeakerTrackerParams{
			Threshold:       params.Audio.Threshold(),
			SmoothIntervals: params.Audio.SmoothIntervals,
		}),
		departed: departed,
		bus: NewEventBus(EventBusParams{
			QueueSize: params.Room.SubscriberQueueSize,
			Logger:    lgr,
		}),
		staleLogger: utils.NewPeriodicLogger(lgr, utils.CountedLoggerLevelWarn, utils.PeriodicLoggerParams{
			Initial: 10,
			Then:    100,
		}),
		startedAt: time.Now(),
	}
	r.snapshot.Store(&types.RoomSnapshot{
		Tracks: map[types.ParticipantID][]*types.TrackPublication{},
	})

	r.opsQueue.Start()
	if params.Audio.SilenceTimeout > 0 {
		go r.silenceWorker()
	}

	prometheus.RoomStarted()
	r.logger.Infow("room started")
	return r
}

func (r *Room) Name() string {
	return r.params.Name
}

func (r *Room) Logger() logger.Logger {
	return r.logger
}

// ------------------------------------------------
// inbound, from the transport layer

// OnParticipantJoined adds or updates p and waits for the result.
// It returns ErrConflictingLocalParticipant when another participant is already local.
func (r *Room) OnParticipantJoined(p *types.Participant) error {
	if p == nil || p.ID == "" {
		return ErrInvalidParticipant
	}
	p = p.Clone()

	res := make(chan error, 1)
	if !r.enqueue(func() {
		var err error
		defer func() { res <- err }()
		err = r.joinParticipant(p)
	}) {
		return ErrRoomClosed
	}
	return <-res
}

func (r *Room) OnParticipantUpdated(p *types.Participant) {
	if p == nil || p.ID == "" {
		return
	}
	p = p.Clone()
	r.enqueue(func() {
		if !r.checkParticipant(p.ID, "participant_updated") {
			return
		}
		if err := r.participants.Upsert(p); err != nil {
			r.logger.Warnw("could not update participant", err, "participant", p.ID)
			return
		}
		r.speakers.SetLocal(r.participants.LocalID())
		r.update(change{cause: types.CauseParticipantUpdated, participantID: p.ID, force: true})
	})
}

func (r *Room) OnParticipantLeft(id types.ParticipantID) {
	r.enqueue(func() {
		r.removeParticipant(id)
	})
}

func (r *Room) OnTrackPublished(id types.ParticipantID, source types.TrackSource, pub *types.TrackPublication) {
	pub = pub.Clone()
	r.enqueue(func() {
		if !r.checkParticipant(id, "track_published") {
			return
		}
		replaced, err := r.tracks.Publish(id, source, pub)
		if err != nil {
			r.logger.Warnw("could not publish track", err, "participant", id, "source", source)
			return
		}
		if replaced == nil {
			prometheus.AddPublishedTrack(source.String())
		}
		r.logger.Debugw("track published", "participant", id, "source", source, "replaced", replaced != nil)
		r.update(change{cause: types.CauseTrackPublished, participantID: id, source: source, force: true})
	})
}

func (r *Room) OnTrackUnpublished(id types.ParticipantID, source types.TrackSource) {
	r.enqueue(func() {
		if r.isDeparted(id, "track_unpublished") {
			return
		}
		if _, ok := r.tracks.Unpublish(id, source); !ok {
			return
		}
		prometheus.SubPublishedTrack(source.String())
		r.logger.Debugw("track unpublished", "participant", id, "source", source)
		r.update(change{cause: types.CauseTrackUnpublished, participantID: id, source: source, force: true})
	})
}

func (r *Room) OnTrackMuted(id types.ParticipantID, source types.TrackSource, muted bool) {
	r.enqueue(func() {
		if r.isDeparted(id, "track_muted") {
			return
		}
		updated := r.tracks.Update(id, source, func(pub *types.TrackPublication) {
			pub.Muted = muted
		})
		if updated {
			r.update(change{cause: types.CauseTrackUpdated, participantID: id, source: source, force: true})
		}
	})
}

func (r *Room) OnTrackSubscriptionChanged(id types.ParticipantID, source types.TrackSource, state types.SubscriptionState) {
	r.enqueue(func() {
		if r.isDeparted(id, "track_subscription_changed") {
			return
		}
		updated := r.tracks.Update(id, source, func(pub *types.TrackPublication) {
			pub.Subscription = state
		})
		if updated {
			r.update(change{cause: types.CauseTrackUpdated, participantID: id, source: source, force: true})
		}
	})
}

func (r *Room) OnAudioLevel(id types.ParticipantID, level float64, at time.Time) {
	r.enqueue(func() {
		if !r.checkParticipant(id, "audio_level") {
			return
		}
		changed, err := r.speakers.Observe(id, level, at)
		if err != nil {
			r.logger.Debugw("dropping audio level", "error", err, "participant", id, "level", level)
			return
		}
		c := change{cause: types.CauseAudioLevel, participantID: id}
		if changed {
			c.speakingChanged = []types.ParticipantID{id}
		}
		r.update(c)
	})
}

var _ types.TransportListener = (*Room)(nil)

// ------------------------------------------------
// outbound, to observers

func (r *Room) Subscribe(handler types.NotificationHandler) *Subscription {
	return r.bus.Subscribe(handler)
}

func (r *Room) Unsubscribe(sub *Subscription) {
	r.bus.Unsubscribe(sub)
}

// Snapshot returns the state after the latest notification. It must not be modified.
func (r *Room) Snapshot() *types.RoomSnapshot {
	return r.snapshot.Load()
}

// CurrentPrimarySpeaker returns a copy of the selected participant.
// It is absent only when the room has no participants.
func (r *Room) CurrentPrimarySpeaker() (*types.Participant, bool) {
	snapshot := r.snapshot.Load()
	if snapshot.PrimarySpeaker == "" {
		return nil, false
	}
	p, ok := snapshot.Participant(snapshot.PrimarySpeaker)
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (r *Room) Participants() []*types.Participant {
	snapshot := r.snapshot.Load()
	out := make([]*types.Participant, 0, len(snapshot.Participants))
	for _, p := range snapshot.Participants {
		out = append(out, p.Clone())
	}
	return out
}

func (r *Room) ActiveSpeakers() []types.SpeakerInfo {
	return slices.Clone(r.snapshot.Load().ActiveSpeakers)
}

// CurrentTracks returns a reference per participant and requested source, in join order.
// Missing cameras are returned as placeholders when camera placeholders are enabled.
func (r *Room) CurrentTracks(sources ...types.TrackSource) []types.TrackReference {
	q := TrackQuery{Sources: sources}
	if r.params.Room.CameraPlaceholders {
		q.Placeholders = []types.TrackSource{types.TrackSourceCamera}
	}
	return r.QueryTracks(q)
}

func (r *Room) QueryTracks(q TrackQuery) []types.TrackReference {
	return QueryTracks(r.snapshot.Load(), q)
}

func (r *Room) PrimaryTrack(id types.ParticipantID) (types.TrackReference, bool) {
	return PrimaryTrack(r.snapshot.Load(), id)
}

func (r *Room) NumSubscribers() int {
	return r.bus.NumSubscribers()
}

// ------------------------------------------------
// lifecycle

// Sync waits until every event queued before the call has been applied
func (r *Room) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !r.enqueue(func() { close(done) }) {
		return ErrRoomClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) OnClose(f func(r *Room)) {
	r.lock.Lock()
	r.onClose = append(r.onClose, f)
	r.lock.Unlock()
}

// Done is closed once the room has closed
func (r *Room) Done() <-chan struct{} {
	return r.closed.Watch()
}

func (r *Room) IsClosed() bool {
	return r.closed.IsBroken()
}

// Close applies events already queued, then stops the room and every subscription.
// It must not be called from the room's own ops.
func (r *Room) Close() {
	r.lock.Lock()
	if r.closed.IsBroken() {
		r.lock.Unlock()
		return
	}
	r.closed.Break()
	onClose := r.onClose
	r.lock.Unlock()

	r.opsQueue.Stop()
	<-r.opsQueue.Done()

	r.bus.Close()
	for i := 0; i < r.participants.Len(); i++ {
		prometheus.SubParticipant()
	}
	for _, id := range r.tracks.Participants() {
		for _, pub := range r.tracks.RemoveParticipant(id) {
			prometheus.SubPublishedTrack(pub.Source.String())
		}
	}
	prometheus.RoomEnded(r.startedAt)
	r.logger.Infow("room closed", "duration", time.Since(r.startedAt), "lastSeq", r.snapshot.Load().Seq)

	for _, f := range onClose {
		f(r)
	}
}

// ------------------------------------------------
// ops queue

func (r *Room) enqueue(op func()) bool {
	if r.closed.IsBroken() {
		return false
	}
	return r.opsQueue.Enqueue(op)
}

func (r *Room) joinParticipant(p *types.Participant) error {
	if r.isDeparted(p.ID, "participant_joined") {
		return nil
	}

	existed := r.participants.Contains(p.ID)
	if !existed {
		if limit := r.params.Room.MaxParticipants; limit > 0 && r.participants.Len() >= int(limit) {
			return ErrMaxParticipantsExceeded
		}
	}
	if err := r.participants.Upsert(p); err != nil {
		r.logger.Warnw("rejected participant", err, "participant", p.ID, "local", p.IsLocal)
		return err
	}
	r.speakers.SetLocal(r.participants.LocalID())

	cause := types.CauseParticipantUpdated
	if !existed {
		cause = types.CauseParticipantJoined
		prometheus.AddParticipant()
		r.logger.Infow("participant joined", "participant", p.ID, "name", p.Name, "local", p.IsLocal)
	}
	r.update(change{cause: cause, participantID: p.ID, force: true})
	return nil
}

func (r *Room) removeParticipant(id types.ParticipantID) {
	if r.isDeparted(id, "participant_left") {
		return
	}
	if !r.participants.Contains(id) {
		r.logger.Debugw("ignoring leave of unknown participant", "participant", id)
		return
	}
	if id == r.participants.LocalID() {
		r.logger.Warnw("ignoring leave", ErrLocalParticipantRemoval, "participant", id)
		return
	}

	// participant, publications and speaker state go together in one op
	r.participants.Remove(id)
	for _, pub := range r.tracks.RemoveParticipant(id) {
		prometheus.SubPublishedTrack(pub.Source.String())
	}
	r.speakers.Remove(id)
	r.departed.Add(id, time.Now())
	prometheus.SubParticipant()

	r.logger.Infow("participant left", "participant", id)
	r.update(change{cause: types.CauseParticipantLeft, participantID: id, force: true})
}

// checkParticipant reports whether events for id can be applied
func (r *Room) checkParticipant(id types.ParticipantID, event string) bool {
	if r.isDeparted(id, event) {
		return false
	}
	if !r.participants.Contains(id) {
		r.logger.Debugw("dropping event for unknown participant", "error", ErrUnknownParticipant, "event", event, "participant", id)
		return false
	}
	return true
}

func (r *Room) isDeparted(id types.ParticipantID, event string) bool {
	if !r.departed.Contains(id) {
		return false
	}
	prometheus.StaleEventDropped(event)
	r.staleLogger.ErrorLog("dropping stale event", ErrStaleEvent, "event", event, "participant", id)
	return true
}

func (r *Room) sweepSilence() {
	cutoff := time.Now().Add(-r.params.Audio.SilenceTimeout)
	stopped := r.speakers.ExpireBefore(cutoff)
	if len(stopped) == 0 {
		return
	}
	r.logger.Debugw("silenced idle speakers", "participants", stopped)
	r.update(change{cause: types.CauseSilenceSweep, speakingChanged: stopped})
}

func (r *Room) silenceWorker() {
	interval := time.Duration(r.params.Audio.UpdateInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultUpdateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := r.closed.Watch()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.enqueue(r.sweepSilence)
		}
	}
}

// update re-selects the primary speaker and publishes a notification when c changed anything
// observers care about. Runs on the ops queue.
func (r *Room) update(c change) {
	ranked := r.speakers.RankedActiveSpeakers()

	joinOrder := r.participants.List()
	var local *types.Participant
	candidates := make([]*types.Participant, 0, len(joinOrder))
	for _, p := range joinOrder {
		p.IsSpeaking = r.speakers.IsSpeaking(p.ID)
		p.AudioLevel = r.speakers.Level(p.ID)
		if p.IsLocal {
			local = p
			continue
		}
		candidates = append(candidates, p)
	}
	// local is the last resort after every remote participant
	if local != nil {
		candidates = append(candidates, local)
	}

	selected, selectionChanged := r.selector.Select(ranked, candidates, local)

	active := make([]types.ParticipantID, 0, len(ranked))
	for _, s := range ranked {
		active = append(active, s.ParticipantID)
	}
	activeChanged := !slices.Equal(active, r.lastActive)
	r.lastActive = active

	notify := c.force || selectionChanged || activeChanged || len(c.speakingChanged) > 0
	if notify {
		r.seq++
	}

	tracks := make(map[types.ParticipantID][]*types.TrackPublication, len(joinOrder))
	for _, p := range joinOrder {
		if pubs := r.tracks.TracksFor(p.ID); len(pubs) > 0 {
			tracks[p.ID] = pubs
		}
	}
	snapshot := &types.RoomSnapshot{
		Seq:            r.seq,
		Participants:   joinOrder,
		Tracks:         tracks,
		ActiveSpeakers: ranked,
		PrimarySpeaker: selectedID(selected),
	}
	r.snapshot.Store(snapshot)

	if !notify {
		return
	}

	if selectionChanged {
		prometheus.PrimarySpeakerChanged()
		r.logger.Debugw("primary speaker changed", "participant", snapshot.PrimarySpeaker, "cause", c.cause)
	}

	r.bus.Publish(types.Notification{
		Seq:                   r.seq,
		Cause:                 c.cause,
		ParticipantID:         c.participantID,
		Source:                c.source,
		PrimarySpeaker:        snapshot.PrimarySpeaker,
		PrimarySpeakerChanged: selectionChanged,
		ActiveSpeakers:        active,
		SpeakingChanged:       c.speakingChanged,
		Time:                  time.Now(),
	})
}
