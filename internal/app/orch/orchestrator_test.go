package orch

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/pion/webrtc/v4"
)

var testRoom = domain.Room{Token: "room1"}

type harness struct {
	sig     *fakeSignaling
	factory *fakeFactory
	ui      *recUI
	call    *Call
}

func newHarness(own domain.SessionID, mcu bool) *harness {
	h := &harness{
		sig:     newFakeSignaling(own, mcu),
		factory: &fakeFactory{},
		ui:      &recUI{},
	}
	local := core.NewLocalParticipant(core.LocalState{AudioEnabled: true})
	h.call = NewCall(Config{Room: testRoom, Nick: "me"}, h.sig, h.factory.New, local, idleScheduler{}, h.ui)
	return h
}

func (h *harness) joinWith(sids ...domain.SessionID) {
	h.call.OnRoomJoined(testRoom, false)
	u := signal.ParticipantsUpdate{RoomID: string(testRoom.Token)}
	for _, sid := range sids {
		u.Users = append(u.Users, domain.Member{SessionID: sid, InCall: domain.CallFlagInCall})
	}
	h.call.OnParticipantsUpdate(u)
}

func msg(t *testing.T, from domain.SessionID, typ, roomType string, payload any) signal.Message {
	t.Helper()
	m, err := signal.NewMessage(typ, "", payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.From = from
	m.RoomType = roomType
	return m
}

func filter(in []string, prefix string) []string {
	var out []string
	for _, s := range in {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMeshParticipantLifecycle(t *testing.T) {
	h := newHarness("a-self", false)
	h.call.OnRoomJoined(testRoom, false)
	h.call.OnParticipantsUpdate(signal.ParticipantsUpdate{Users: []domain.Member{
		{SessionID: "a-self", InCall: domain.CallFlagInCall},
		{SessionID: "b-peer", UserID: "bob", Nick: "Bob", InCall: domain.CallFlagInCall | domain.CallFlagWithAudio},
		{SessionID: "c-gone", InCall: domain.CallFlagDisconnected},
	}})

	if got, want := h.sig.messages(), []string{"offer>b-peer/video"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
	ps := h.call.Participants()
	if len(ps) != 1 || ps[0].SessionID != "b-peer" || ps[0].Nick != "Bob" || ps[0].UserID != "bob" {
		t.Fatalf("participants = %+v", ps)
	}
	if !reflect.DeepEqual(h.ui.added, []domain.SessionID{"b-peer"}) {
		t.Fatalf("ui added = %v", h.ui.added)
	}

	h.call.OnParticipantsUpdate(signal.ParticipantsUpdate{Users: []domain.Member{
		{SessionID: "b-peer", InCall: domain.CallFlagDisconnected},
	}})
	if len(h.call.Participants()) != 0 {
		t.Fatal("participant still present")
	}
	if !h.factory.all()[0].isClosed() {
		t.Fatal("peer connection not closed")
	}
	if !reflect.DeepEqual(h.ui.removed, []domain.SessionID{"b-peer"}) {
		t.Fatalf("ui removed = %v", h.ui.removed)
	}
}

func TestRepeatedUpdateDoesNotDuplicate(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer")
	h.call.OnParticipantsUpdate(signal.ParticipantsUpdate{Users: []domain.Member{
		{SessionID: "b-peer", Nick: "Bobby", InCall: domain.CallFlagInCall},
	}})
	if n := len(h.factory.all()); n != 1 {
		t.Fatalf("peer connections = %d", n)
	}
	if nick := h.call.participant("b-peer").Nick(); nick != "Bobby" {
		t.Fatalf("nick = %q", nick)
	}
}

func TestMCUPublisherAndSubscriber(t *testing.T) {
	h := newHarness("a-self", true)
	h.joinWith("b-peer")

	want := []string{"offer>a-self/video", "requestoffer>b-peer/video"}
	if got := h.sig.messages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
	if !h.call.Status().MCU {
		t.Fatal("status does not report relay mode")
	}

	h.sig.recv.Dispatch(msg(t, "b-peer", signal.MsgOffer, "video", signal.SDPPayload{Type: "offer", SDP: testSDP}))
	if got := filter(h.sig.messages(), "answer"); !reflect.DeepEqual(got, []string{"answer>b-peer/video"}) {
		t.Fatalf("answers = %v", got)
	}
}

func TestPublisherFailureReconnects(t *testing.T) {
	h := newHarness("a-self", true)
	h.joinWith()
	pub := h.factory.all()[0]
	pub.onState(webrtc.ICEConnectionStateFailed)

	eventually(t, func() bool { return len(h.factory.all()) == 2 && pub.isClosed() })
	eventually(t, func() bool { return len(filter(h.sig.messages(), "offer>a-self")) == 2 })
}

func TestParticipantSignalingMessages(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer")
	p := h.call.participant("b-peer")
	rec := &reactions{}
	p.AddObserver(rec)

	h.sig.recv.Dispatch(msg(t, "b-peer", signal.MsgUnmute, "", signal.MediaPayload{Name: "audio"}))
	h.sig.recv.Dispatch(msg(t, "b-peer", signal.MsgUnmute, "", signal.MediaPayload{Name: "video"}))
	h.sig.recv.Dispatch(msg(t, "b-peer", signal.MsgMute, "", signal.MediaPayload{Name: "video"}))
	h.sig.recv.Dispatch(msg(t, "b-peer", signal.MsgRaiseHand, "", domain.RaisedHand{State: true, Timestamp: 10}))
	h.sig.recv.Dispatch(msg(t, "b-peer", signal.MsgNickChanged, "", "Bob"))
	h.sig.recv.Dispatch(msg(t, "b-peer", signal.MsgReaction, "", signal.ReactionPayload{Reaction: "+1"}))

	st := p.State()
	if !st.AudioAvailable || st.VideoAvailable {
		t.Fatalf("media = audio %v video %v", st.AudioAvailable, st.VideoAvailable)
	}
	if !st.RaisedHand.State || st.RaisedHand.Timestamp != 10 {
		t.Fatalf("raised hand = %+v", st.RaisedHand)
	}
	if st.Nick != "Bob" {
		t.Fatalf("nick = %q", st.Nick)
	}
	if !reflect.DeepEqual(rec.got, []string{"+1"}) {
		t.Fatalf("reactions = %v", rec.got)
	}
}

func TestStatusChannelUpdatesParticipant(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer")
	dc := h.factory.all()[0].channel()
	if dc == nil {
		t.Fatal("initiator created no status channel")
	}

	dc.receive(rtc.StatusMessage{Type: rtc.StatusAudioOn})
	dc.receive(rtc.StatusMessage{Type: rtc.StatusSpeaking})
	nick, _ := rtc.NewStatusMessage(rtc.StatusNickChanged, signal.NickPayload{UserID: "bob", Name: "Bob"})
	dc.receive(nick)

	st := h.call.participant("b-peer").State()
	if !st.AudioAvailable || !st.Speaking || st.Nick != "Bob" || st.UserID != "bob" {
		t.Fatalf("state = %+v", st)
	}
}

func TestUnclaimedOffers(t *testing.T) {
	h := newHarness("z-self", false)
	h.joinWith("a-peer")
	if got := h.sig.messages(); len(got) != 0 {
		t.Fatalf("responder sent %v", got)
	}

	h.sig.recv.Dispatch(msg(t, "a-peer", signal.MsgOffer, "screen", signal.SDPPayload{Type: "offer", SDP: testSDP}))
	if got := h.sig.messages(); !reflect.DeepEqual(got, []string{"answer>a-peer/screen"}) {
		t.Fatalf("sent = %v", got)
	}
	if n := len(h.factory.all()); n != 2 {
		t.Fatalf("peer connections = %d", n)
	}

	h.sig.recv.Dispatch(msg(t, "a-peer", signal.MsgUnshareScreen, "", nil))
	if !h.factory.all()[1].isClosed() {
		t.Fatal("screen connection not closed")
	}
	if h.factory.all()[0].isClosed() {
		t.Fatal("video connection closed with the screen")
	}

	h.sig.recv.Dispatch(msg(t, "b-new", signal.MsgOffer, "video", signal.SDPPayload{Type: "offer", SDP: testSDP}))
	if got := filter(h.sig.messages(), "answer>b-new"); !reflect.DeepEqual(got, []string{"answer>b-new/video"}) {
		t.Fatalf("answers = %v", got)
	}
	if h.call.participant("b-new") == nil {
		t.Fatal("offering session not added to the call")
	}
}

func TestOfferOutsideCallIgnored(t *testing.T) {
	h := newHarness("z-self", false)
	h.sig.recv.Dispatch(msg(t, "a-peer", signal.MsgOffer, "video", signal.SDPPayload{Type: "offer", SDP: testSDP}))
	if len(h.factory.all()) != 0 || len(h.sig.messages()) != 0 {
		t.Fatal("offer handled outside of a call")
	}
}

func TestICEStateMirroredAndFailureReported(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer")
	pc := h.factory.all()[0]

	pc.onState(webrtc.ICEConnectionStateConnected)
	if st := h.call.participant("b-peer").ICEConnectionState(); st != domain.ICEConnected {
		t.Fatalf("ice = %v", st)
	}
	pc.onState(webrtc.ICEConnectionStateFailed)
	if !reflect.DeepEqual(h.ui.failed, []domain.SessionID{"b-peer"}) {
		t.Fatalf("failed = %v", h.ui.failed)
	}
}

func TestCallEndedForEveryone(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer")
	h.call.OnParticipantsUpdate(signal.ParticipantsUpdate{All: true, InCall: domain.CallFlagDisconnected})

	if !reflect.DeepEqual(h.ui.ended, []string{"call ended for everyone"}) {
		t.Fatalf("ended = %v", h.ui.ended)
	}
	if !h.factory.all()[0].isClosed() {
		t.Fatal("peer connection left open")
	}
	if err := h.call.RaiseHand(true); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("RaiseHand err = %v", err)
	}
	h.call.OnParticipantsUpdate(signal.ParticipantsUpdate{Users: []domain.Member{
		{SessionID: "c-peer", InCall: domain.CallFlagInCall},
	}})
	if len(h.call.Participants()) != 0 {
		t.Fatal("ended call accepted participants")
	}
}

func TestSessionInvalidatedRejoins(t *testing.T) {
	h := newHarness("a-self", false)
	if err := h.call.Join(); err != nil {
		t.Fatal(err)
	}
	h.joinWith("b-peer")

	h.sig.setSessionID("a-new")
	h.call.OnSessionInvalidated()
	if h.sig.joinCount() != 2 {
		t.Fatalf("joins = %d", h.sig.joinCount())
	}
	if !h.factory.all()[0].isClosed() || len(h.call.Participants()) != 0 {
		t.Fatal("old session state survived")
	}

	h.call.OnRoomJoined(testRoom, false)
	if st := h.call.Status(); !st.InCall || st.SessionID != "a-new" {
		t.Fatalf("status = %+v", st)
	}
}

func TestRejoinsBounded(t *testing.T) {
	h := newHarness("a-self", false)
	local := core.NewLocalParticipant(core.LocalState{})
	h.call = NewCall(Config{Room: testRoom, RejoinLimit: 2, RejoinInterval: time.Hour}, h.sig, h.factory.New, local, idleScheduler{}, h.ui)
	if err := h.call.Join(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		h.joinWith("b-peer")
		h.call.OnSessionInvalidated()
	}
	if h.sig.joinCount() != 3 {
		t.Fatalf("joins = %d", h.sig.joinCount())
	}
	if len(h.ui.ended) != 0 {
		t.Fatalf("ended = %v", h.ui.ended)
	}

	h.joinWith("b-peer")
	h.call.OnSessionInvalidated()
	if h.sig.joinCount() != 3 {
		t.Fatalf("joins after limit = %d", h.sig.joinCount())
	}
	if !reflect.DeepEqual(h.ui.ended, []string{"rejoin limit reached"}) {
		t.Fatalf("ended = %v", h.ui.ended)
	}
}

func TestResumedJoinKeepsCall(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer")
	h.call.OnRoomJoined(testRoom, true)
	if h.factory.all()[0].isClosed() || len(h.call.Participants()) != 1 {
		t.Fatal("resume disturbed the call")
	}
}

func TestOtherRoomIgnored(t *testing.T) {
	h := newHarness("a-self", false)
	h.call.OnRoomJoined(domain.Room{Token: "other"}, false)
	if h.call.Status().InCall {
		t.Fatal("joined call for another room")
	}
}

func TestLocalIntentsReachParticipants(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer", "c-peer")

	if err := h.call.RaiseHand(true); err != nil {
		t.Fatal(err)
	}
	if got := filter(h.sig.messages(), "raiseHand"); !reflect.DeepEqual(got, []string{"raiseHand>b-peer", "raiseHand>c-peer"}) {
		t.Fatalf("raiseHand = %v", got)
	}
	if err := h.call.SetNick("Me Too"); err != nil {
		t.Fatal(err)
	}
	if got := filter(h.sig.messages(), "nickChanged"); len(got) != 2 {
		t.Fatalf("nickChanged = %v", got)
	}

	h.call.SetAudioEnabled(false)
	if h.call.Status().Local.AudioEnabled {
		t.Fatal("local audio still enabled")
	}
}

func TestHangUpLeavesRoom(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer")
	if err := h.call.HangUp(); err != nil {
		t.Fatal(err)
	}
	if h.sig.leaves != 1 || !reflect.DeepEqual(h.ui.ended, []string{"hangup"}) {
		t.Fatalf("leaves = %d ended = %v", h.sig.leaves, h.ui.ended)
	}
}

func TestStatusJSON(t *testing.T) {
	h := newHarness("a-self", false)
	h.joinWith("b-peer")
	raw, err := json.Marshal(h.call.Status())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"sessionId":"b-peer"`) {
		t.Fatalf("status = %s", raw)
	}
}

func TestJoinEventsSeedIdentity(t *testing.T) {
	h := newHarness("a-self", false)
	h.call.OnRoomJoined(testRoom, false)
	h.call.OnParticipantsJoined([]signal.EventSession{
		{SessionID: "b-peer", UserID: "bob", User: json.RawMessage(`{"displayname":"Bob"}`)},
		{SessionID: "c-peer", User: json.RawMessage(`not json`)},
	})
	h.call.OnParticipantsUpdate(signal.ParticipantsUpdate{Users: []domain.Member{
		{SessionID: "b-peer", InCall: domain.CallFlagInCall},
		{SessionID: "c-peer", InCall: domain.CallFlagInCall},
	}})

	got := map[domain.SessionID]core.ParticipantState{}
	for _, p := range h.call.Participants() {
		got[p.SessionID] = p
	}
	if b := got["b-peer"]; b.UserID != "bob" || b.Nick != "Bob" {
		t.Fatalf("b-peer = %+v", b)
	}
	if c := got["c-peer"]; c.UserID != "" || c.Nick != "" {
		t.Fatalf("c-peer = %+v", c)
	}

	h.call.OnParticipantsJoined([]signal.EventSession{
		{SessionID: "c-peer", UserID: "carol", User: json.RawMessage(`{"displayname":"Carol"}`)},
	})
	for _, p := range h.call.Participants() {
		if p.SessionID == "c-peer" && (p.UserID != "carol" || p.Nick != "Carol") {
			t.Fatalf("c-peer after join event = %+v", p)
		}
	}
}
