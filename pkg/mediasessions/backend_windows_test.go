//go:build windows

package mediasessions

import (
	"errors"
	"syscall"
	"testing"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"go.uber.org/zap"
)

// comStub is an in-process COM object for tests: a vtable pointer (which must
// stay the first field, the interop layer reads it through ole.IInspectable)
// plus a reference counter. AddRef/Release adjust refs; a balanced object
// ends at zero.
type comStub struct {
	vtable *[64]uintptr
	refs   int32
}

func newComStub() *comStub {
	s := &comStub{vtable: new([64]uintptr)}

	s.vtable[1] = syscall.NewCallback(func(this uintptr) uintptr {
		s.refs++
		return 0
	})
	s.vtable[2] = syscall.NewCallback(func(this uintptr) uintptr {
		s.refs--
		return 0
	})

	return s
}

func (s *comStub) inspectable() *ole.IInspectable {
	return (*ole.IInspectable)(unsafe.Pointer(s))
}

// newFakeSession builds a session stub answering GetAumid.
func newFakeSession(aumid string) *comStub {
	s := newComStub()

	s.vtable[slotSessionGetAumid] = syscall.NewCallback(func(this, out uintptr) uintptr {
		h, err := ole.NewHString(aumid)
		if err != nil {
			return 0x80004005 // E_FAIL
		}

		// ownership of the HSTRING transfers to the caller
		*(*ole.HString)(unsafe.Pointer(out)) = h
		return 0
	})

	return s
}

// newFakeManager builds a session manager whose GetSessions hands out a
// vector over the given sessions. GetAt addrefs like the real thing.
func newFakeManager(sessions ...*comStub) (manager, vector *comStub) {
	vec := newComStub()

	vec.vtable[6] = syscall.NewCallback(func(this, index, out uintptr) uintptr {
		session := sessions[int(index)]
		session.refs++
		*(*uintptr)(unsafe.Pointer(out)) = uintptr(unsafe.Pointer(session))
		return 0
	})
	vec.vtable[7] = syscall.NewCallback(func(this, out uintptr) uintptr {
		*(*uint32)(unsafe.Pointer(out)) = uint32(len(sessions))
		return 0
	})

	mgr := newComStub()
	mgr.vtable[slotManagerGetSessions] = syscall.NewCallback(func(this, out uintptr) uintptr {
		vec.refs++
		*(*uintptr)(unsafe.Pointer(out)) = uintptr(unsafe.Pointer(vec))
		return 0
	})

	return mgr, vec
}

func newTestSMTCBackend(manager *comStub) *smtcBackend {
	return &smtcBackend{
		logger:  zap.NewNop().Sugar(),
		manager: &winrtObject{insp: manager.inspectable()},
		updates: make(chan BackendEvent, 4),
		seen:    make(map[string]*RawSnapshot),
		repeat:  make(map[string]RepeatMode),
		shuffle: make(map[string]bool),
		done:    make(chan struct{}),
	}
}

func TestFindSessionOwnership(t *testing.T) {
	spotify := newFakeSession("Spotify.exe")
	chrome := newFakeSession("chrome.exe")
	manager, vec := newFakeManager(spotify, chrome)
	b := newTestSMTCBackend(manager)

	session, err := b.findSession("chrome.exe")
	if err != nil {
		t.Fatalf("findSession failed: %v", err)
	}

	if spotify.refs != 0 {
		t.Errorf("unmatched session leaked %d refs", spotify.refs)
	}
	if chrome.refs != 1 {
		t.Errorf("matched session should be held with one ref, got %d", chrome.refs)
	}

	session.Release()
	if chrome.refs != 0 {
		t.Errorf("released session still holds %d refs", chrome.refs)
	}
	if vec.refs != 0 {
		t.Errorf("session vector leaked %d refs", vec.refs)
	}
}

func TestFindSessionUnknownKey(t *testing.T) {
	spotify := newFakeSession("Spotify.exe")
	manager, vec := newFakeManager(spotify)
	b := newTestSMTCBackend(manager)

	if _, err := b.findSession("vlc.exe"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("got %v, want ErrNoSession", err)
	}
	if spotify.refs != 0 {
		t.Errorf("miss should release every enumerated session, %d refs left", spotify.refs)
	}
	if vec.refs != 0 {
		t.Errorf("session vector leaked %d refs", vec.refs)
	}
}

func TestSetVolumeBalancesSessionRefs(t *testing.T) {
	spotify := newFakeSession("Spotify.exe")
	manager, vec := newFakeManager(spotify)
	b := newTestSMTCBackend(manager) // no endpoint volume

	if err := b.SetVolume("Spotify.exe", 0.5); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("got %v, want ErrNotSupported without endpoint volume", err)
	}
	if spotify.refs != 0 {
		t.Errorf("SetVolume leaked %d session refs", spotify.refs)
	}
	if vec.refs != 0 {
		t.Errorf("SetVolume leaked %d vector refs", vec.refs)
	}

	if err := b.SetVolume("vlc.exe", 0.5); !errors.Is(err, ErrNoSession) {
		t.Errorf("got %v, want ErrNoSession for unknown key", err)
	}
}

func TestMediaTypeFromPlaybackType(t *testing.T) {
	tests := []struct {
		val  int32
		want MediaType
	}{
		{0, MediaTypeUnknown},
		{1, MediaTypeMusic},
		{2, MediaTypeVideo},
		{3, MediaTypeUnknown}, // image sessions have no canonical kind
		{42, MediaTypeUnknown},
	}

	for _, tt := range tests {
		if got := mediaTypeFromPlaybackType(tt.val); got != tt.want {
			t.Errorf("mediaTypeFromPlaybackType(%d) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestAumidToAppName(t *testing.T) {
	tests := []struct {
		aumid, want string
	}{
		{"Spotify.exe", "Spotify"},
		{"SpotifyAB.SpotifyMusic_zpdnekdrzrea0!Spotify", "Spotify"},
		{"chrome", "chrome"},
		{"trailing!", "trailing!"},
	}

	for _, tt := range tests {
		if got := aumidToAppName(tt.aumid); got != tt.want {
			t.Errorf("aumidToAppName(%q) = %q, want %q", tt.aumid, got, tt.want)
		}
	}
}
