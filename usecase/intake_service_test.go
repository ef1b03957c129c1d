package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aarambh/dispatch/server/adapters"
	"github.com/aarambh/dispatch/server/domain"
	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/internal/intake"
)

// fakeCapabilities marks the record sufficient once the caller has spoken `completeAfter` times
type fakeCapabilities struct {
	mu            sync.Mutex
	completeAfter int
	calls         int
	extractErr    error
	delay         time.Duration
	inFlight      int32
	overlapped    atomic.Bool
}

func (f *fakeCapabilities) Extract(ctx context.Context, utterance string, current entities.IncidentRecord, history []string) (entities.IncidentRecord, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		f.overlapped.Store(true)
	}
	defer atomic.AddInt32(&f.inFlight, -1)
	time.Sleep(f.delay)

	if f.extractErr != nil {
		return entities.IncidentRecord{}, f.extractErr
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	current.Description = utterance
	current.EmergencyType = entities.EmergencyTypeFire
	return current, nil
}

func (f *fakeCapabilities) Verify(ctx context.Context, record entities.IncidentRecord) (entities.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeAfter > 0 && f.calls >= f.completeAfter {
		return entities.VerificationResult{IsSufficient: true}, nil
	}
	return entities.VerificationResult{MissingFields: []string{entities.FieldLocation}}, nil
}

func (f *fakeCapabilities) GenerateQuestion(ctx context.Context, field string, recentTurns []string) (string, error) {
	return "Where is the **emergency**?", nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports map[string]entities.IncidentRecord
	calls   int
	err     error
}

func (r *recordingSink) Persist(ctx context.Context, sessionID string, record entities.IncidentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	if r.reports == nil {
		r.reports = make(map[string]entities.IncidentRecord)
	}
	r.reports[sessionID] = record
	return nil
}

type recordingLog struct {
	mu    sync.Mutex
	turns []string
}

func (l *recordingLog) Log(sessionID, role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, role+": "+text)
}

func newTestService(caps *fakeCapabilities, sink *recordingSink, audit *recordingLog) (*IntakeService, *adapters.MemorySessionRepository) {
	logger := zap.NewNop()
	repo := adapters.NewMemorySessionRepository()
	machine := intake.NewMachine(caps, logger)
	return NewIntakeService(machine, repo, sink, audit, time.Minute, logger), repo
}

func TestIntakeService_HandleChat_NewSession(t *testing.T) {
	service, repo := newTestService(&fakeCapabilities{}, &recordingSink{}, &recordingLog{})

	reply, err := service.HandleChat(context.Background(), domain.ChatMessage{Message: "there is a fire"})
	if err != nil {
		t.Fatalf("HandleChat() error = %v", err)
	}
	if reply.SessionID == "" {
		t.Fatal("a session id should be generated")
	}
	if reply.Reply != "Where is the emergency?" {
		t.Errorf("Reply = %q", reply.Reply)
	}
	if reply.IsComplete || reply.Record != nil {
		t.Error("record must only be returned once complete")
	}
	if repo.Count() != 1 {
		t.Errorf("sessions stored = %d, want 1", repo.Count())
	}
}

func TestIntakeService_PersistsExactlyOnce(t *testing.T) {
	sink := &recordingSink{}
	service, _ := newTestService(&fakeCapabilities{completeAfter: 2}, sink, &recordingLog{})
	ctx := context.Background()

	first, err := service.HandleChat(ctx, domain.ChatMessage{SessionID: "chat-1", Message: "fire"})
	if err != nil {
		t.Fatalf("first HandleChat() error = %v", err)
	}
	if first.IsComplete {
		t.Fatal("first message should not complete the session")
	}

	second, err := service.HandleChat(ctx, domain.ChatMessage{SessionID: "chat-1", Message: "at the mall"})
	if err != nil {
		t.Fatalf("second HandleChat() error = %v", err)
	}
	if !second.IsComplete || second.Record == nil {
		t.Fatal("second message should complete the session with a record")
	}
	if second.Reply != intake.CompletionMessage+DispatchNotice {
		t.Errorf("Reply = %q", second.Reply)
	}

	third, err := service.HandleChat(ctx, domain.ChatMessage{SessionID: "chat-1", Message: "also it is spreading"})
	if !errors.Is(err, domain.ErrSessionComplete) {
		t.Fatalf("third HandleChat() error = %v, want ErrSessionComplete", err)
	}
	if third == nil || third.Record == nil {
		t.Fatal("a complete session should still return its record")
	}
	if third.Record.Description != "at the mall" {
		t.Errorf("record changed after completion: %+v", third.Record)
	}

	if sink.calls != 1 {
		t.Errorf("Persist called %d times, want 1", sink.calls)
	}
	if _, ok := sink.reports["chat-1"]; !ok {
		t.Error("report should be keyed by session id")
	}
}

func TestIntakeService_PersistenceFailureKeepsCompletion(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	service, repo := newTestService(&fakeCapabilities{completeAfter: 1}, sink, &recordingLog{})

	reply, err := service.HandleChat(context.Background(), domain.ChatMessage{SessionID: "chat-2", Message: "fire"})
	if err != nil {
		t.Fatalf("HandleChat() error = %v", err)
	}
	if !reply.IsComplete {
		t.Error("completion should survive a persistence failure")
	}

	stored, err := repo.Get(context.Background(), "chat-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !stored.IsComplete {
		t.Error("stored session should be complete")
	}

	again, err := service.HandleChat(context.Background(), domain.ChatMessage{SessionID: "chat-2", Message: "hello?"})
	if !errors.Is(err, domain.ErrSessionComplete) {
		t.Errorf("HandleChat() error = %v, want ErrSessionComplete", err)
	}
	if again == nil || !again.IsComplete {
		t.Error("a complete session should answer with its final reply")
	}
	if sink.calls != 1 {
		t.Errorf("Persist called %d times, want 1", sink.calls)
	}
}

func TestIntakeService_AdvanceReportsPersistenceError(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	service, _ := newTestService(&fakeCapabilities{completeAfter: 1}, sink, &recordingLog{})

	outcome, err := service.Advance(context.Background(), "call-1", "fire")
	var persistErr *domain.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("Advance() error = %v, want PersistenceError", err)
	}
	if outcome == nil || !outcome.Completed {
		t.Error("outcome should still report completion")
	}
}

func TestIntakeService_CapabilityErrorLeavesSessionUntouched(t *testing.T) {
	caps := &fakeCapabilities{}
	service, repo := newTestService(caps, &recordingSink{}, &recordingLog{})
	ctx := context.Background()

	if _, err := service.HandleChat(ctx, domain.ChatMessage{SessionID: "chat-3", Message: "fire"}); err != nil {
		t.Fatalf("HandleChat() error = %v", err)
	}
	before, _ := repo.Get(ctx, "chat-3")

	caps.extractErr = errors.New("model overloaded")
	reply, err := service.HandleChat(ctx, domain.ChatMessage{SessionID: "chat-3", Message: "at the mall"})
	var capErr *domain.CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("HandleChat() error = %v, want CapabilityError", err)
	}
	if reply != nil {
		t.Error("no reply should be guessed on capability failure")
	}

	after, _ := repo.Get(ctx, "chat-3")
	if len(after.History) != len(before.History) {
		t.Errorf("history changed on a failed cycle: %v", after.History)
	}
}

func TestIntakeService_SerializesCyclesPerSession(t *testing.T) {
	caps := &fakeCapabilities{delay: 20 * time.Millisecond}
	service, repo := newTestService(caps, &recordingSink{}, &recordingLog{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.Advance(context.Background(), "call-1", "fire"); err != nil {
				t.Errorf("Advance() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if caps.overlapped.Load() {
		t.Error("cycles for one session overlapped")
	}
	session, _ := repo.Get(context.Background(), "call-1")
	if len(session.History) != 10 {
		t.Errorf("history has %d turns, want 10", len(session.History))
	}
}

func TestIntakeService_AuditLog(t *testing.T) {
	audit := &recordingLog{}
	service, _ := newTestService(&fakeCapabilities{}, &recordingSink{}, audit)

	if _, err := service.Advance(context.Background(), "call-1", "fire"); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if _, err := service.Advance(context.Background(), "call-1", ""); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	want := []string{
		"caller: fire",
		"operator: Where is the emergency?",
		"operator: Where is the emergency?",
	}
	if len(audit.turns) != len(want) {
		t.Fatalf("audit turns = %v, want %v", audit.turns, want)
	}
	for i := range want {
		if audit.turns[i] != want[i] {
			t.Errorf("turn %d = %q, want %q", i, audit.turns[i], want[i])
		}
	}
}

func TestIntakeService_KeepsChannelsApart(t *testing.T) {
	sink := &recordingSink{}
	service, repo := newTestService(&fakeCapabilities{completeAfter: 1}, sink, &recordingLog{})
	ctx := context.Background()

	if _, err := service.StartSession(ctx, "MZ123"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	reply, err := service.HandleChat(ctx, domain.ChatMessage{SessionID: "MZ123", Message: "fire at the mall"})
	if !errors.Is(err, domain.ErrSessionChannel) {
		t.Fatalf("HandleChat() on a call session error = %v, want ErrSessionChannel", err)
	}
	if reply != nil {
		t.Errorf("reply = %+v, want nil", reply)
	}

	call, _ := repo.Get(ctx, "MZ123")
	if call.IsComplete || len(call.History) != 0 {
		t.Errorf("call session was advanced from chat: %+v", call)
	}
	if sink.calls != 0 {
		t.Errorf("Persist called %d times, want 0", sink.calls)
	}

	if _, err := service.HandleChat(ctx, domain.ChatMessage{SessionID: "chat-9", Message: "fire"}); err != nil {
		t.Fatalf("HandleChat() error = %v", err)
	}
	if _, err := service.Advance(ctx, "chat-9", "hello"); !errors.Is(err, domain.ErrSessionChannel) {
		t.Errorf("Advance() on a chat session error = %v, want ErrSessionChannel", err)
	}

	chat, _ := repo.Get(ctx, "chat-9")
	if chat.Channel != entities.ChannelChat {
		t.Errorf("Channel = %q, want %q", chat.Channel, entities.ChannelChat)
	}
}

func TestIntakeService_StartAndCloseSession(t *testing.T) {
	service, repo := newTestService(&fakeCapabilities{}, &recordingSink{}, &recordingLog{})
	ctx := context.Background()

	session, err := service.StartSession(ctx, "MZ123")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if session.NextQuestion != entities.InitialQuestion {
		t.Errorf("NextQuestion = %q", session.NextQuestion)
	}

	if err := service.CloseSession(ctx, "MZ123"); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if repo.Count() != 0 {
		t.Error("session should be evicted")
	}
	if err := service.CloseSession(ctx, "MZ123"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("CloseSession() twice error = %v, want ErrSessionNotFound", err)
	}
}

func TestBuildReply(t *testing.T) {
	tests := []struct {
		name     string
		question string
		complete bool
		want     string
	}{
		{"asking", "Where are you?", false, "Where are you?"},
		{"complete adds notice", "Thank you.", true, "Thank you. Dispatching units now."},
		{"already dispatching", "I am dispatching an ambulance.", true, "I am dispatching an ambulance."},
		{"case insensitive", "DISPATCH is on the way.", true, "DISPATCH is on the way."},
		{"strips markup", "**Where** is the _fire_? #", false, "Where is the fire?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := entities.NewSession("s")
			session.NextQuestion = tt.question
			session.IsComplete = tt.complete
			if got := BuildReply(session); got != tt.want {
				t.Errorf("BuildReply() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	if len(k.locks) != 0 {
		t.Errorf("locks = %d, want 0", len(k.locks))
	}
}
