package telephony

import (
	"context"
	"sync"
)

// FakeProvider is an in-memory Provider for tests.
type FakeProvider struct {
	mu sync.Mutex

	Calls          map[string]CallInfo
	RecordingsList map[string][]Recording // keyed by call SID
	Audio          map[string][]byte      // keyed by recording SID

	// Errors, when set for a call/recording SID, are returned instead.
	ListErr     map[string]error
	DownloadErr map[string]error

	DownloadCount map[string]int
	Ended         []string
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Calls:          map[string]CallInfo{},
		RecordingsList: map[string][]Recording{},
		Audio:          map[string][]byte{},
		ListErr:        map[string]error{},
		DownloadErr:    map[string]error{},
		DownloadCount:  map[string]int{},
	}
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) FetchCall(ctx context.Context, callSID string) (CallInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.Calls[callSID]
	if !ok {
		return CallInfo{SID: callSID, Status: "queued"}, nil
	}
	return info, nil
}

func (f *FakeProvider) StartRecording(ctx context.Context, callSID, statusCallbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.Calls[callSID]; !ok || !info.Live() {
		return "", ErrCallNotLive
	}
	return "RE-" + callSID, nil
}

func (f *FakeProvider) ListRecordings(ctx context.Context, callSID string) ([]Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ListErr[callSID]; err != nil {
		return nil, err
	}
	return append([]Recording(nil), f.RecordingsList[callSID]...), nil
}

func (f *FakeProvider) DownloadRecording(ctx context.Context, recordingSID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DownloadCount[recordingSID]++
	if err := f.DownloadErr[recordingSID]; err != nil {
		return nil, "", err
	}
	body, ok := f.Audio[recordingSID]
	if !ok {
		return nil, "", ErrNotConfigured
	}
	return append([]byte(nil), body...), "audio/mpeg", nil
}

func (f *FakeProvider) EndCall(ctx context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.Calls[callSID]
	if !ok {
		return ErrNotConfigured
	}
	info.Status = "completed"
	f.Calls[callSID] = info
	f.Ended = append(f.Ended, callSID)
	return nil
}

// FakeDialer is an in-memory Dialer for tests.
type FakeDialer struct {
	mu       sync.Mutex
	NextSID  string
	Err      error
	LastVars map[string]string
	LastTo   string
}

func (f *FakeDialer) PlaceCall(ctx context.Context, toNumber string, dynamicVariables map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.LastTo = toNumber
	f.LastVars = dynamicVariables
	if f.NextSID == "" {
		return "CAfake", nil
	}
	return f.NextSID, nil
}
