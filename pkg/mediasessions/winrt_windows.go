//go:build windows

package mediasessions

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"

	ole "github.com/go-ole/go-ole"
)

// Minimal WinRT interop for Windows.Media.Control. go-ole gives us runtime
// activation and HSTRINGs; the interface methods themselves are raw vtable
// calls, since go-ole carries no Windows.Media.Control projections.

const smtcManagerClass = "Windows.Media.Control.GlobalSystemMediaTransportControlsSessionManager"

var (
	iidSessionManagerStatics = ole.NewGUID("{2050C4EE-11A0-57DE-AED7-C97C70338245}")
	iidAsyncInfo             = ole.NewGUID("{00000036-0000-0000-C000-000000000046}")
)

// SMTC auto repeat mode enum values.
const (
	smtcAutoRepeatNone = iota
	smtcAutoRepeatTrack
	smtcAutoRepeatList
)

// winrtObject wraps an IInspectable and exposes raw vtable slot calls.
// Slots 0-5 belong to IUnknown and IInspectable; interface methods start
// at slot 6.
type winrtObject struct {
	insp *ole.IInspectable
}

func (o *winrtObject) valid() bool { return o != nil && o.insp != nil }

func (o *winrtObject) vtableSlot(slot int) uintptr {
	vtable := *(*[64]uintptr)(unsafe.Pointer(o.insp.RawVTable))
	return vtable[slot]
}

func (o *winrtObject) call(slot int, args ...uintptr) error {
	callArgs := append([]uintptr{uintptr(unsafe.Pointer(o.insp))}, args...)

	hr, _, _ := syscall.SyscallN(o.vtableSlot(slot), callArgs...)
	if hr != 0 {
		return fmt.Errorf("winrt call (slot %d): %w", slot, ole.NewError(hr))
	}
	return nil
}

// callObject invokes a slot that returns an interface pointer.
func (o *winrtObject) callObject(slot int, args ...uintptr) (*winrtObject, error) {
	var out *ole.IInspectable

	callArgs := append(args, uintptr(unsafe.Pointer(&out)))
	if err := o.call(slot, callArgs...); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return &winrtObject{insp: out}, nil
}

func (o *winrtObject) callBool(slot int) (bool, error) {
	var out bool
	if err := o.call(slot, uintptr(unsafe.Pointer(&out))); err != nil {
		return false, err
	}
	return out, nil
}

func (o *winrtObject) callInt32(slot int) (int32, error) {
	var out int32
	if err := o.call(slot, uintptr(unsafe.Pointer(&out))); err != nil {
		return 0, err
	}
	return out, nil
}

// callInt64 reads a 64-bit value, which also covers TimeSpan (a struct of
// one int64 tick count).
func (o *winrtObject) callInt64(slot int) (int64, error) {
	var out int64
	if err := o.call(slot, uintptr(unsafe.Pointer(&out))); err != nil {
		return 0, err
	}
	return out, nil
}

func (o *winrtObject) callString(slot int) (string, error) {
	var out ole.HString
	if err := o.call(slot, uintptr(unsafe.Pointer(&out))); err != nil {
		return "", err
	}

	s := out.String()
	ole.DeleteHString(out)
	return s, nil
}

func (o *winrtObject) Release() {
	if o.valid() {
		o.insp.Release()
		o.insp = nil
	}
}

// awaitOperation drives an IAsyncOperation to completion by polling its
// IAsyncInfo status, then fetches the result. GetResults is slot 8 on every
// IAsyncOperation<T>.
func awaitOperation(op *winrtObject, timeout time.Duration) (*winrtObject, error) {
	defer op.Release()

	asyncInfo, err := op.insp.QueryInterface(iidAsyncInfo)
	if err != nil {
		return nil, fmt.Errorf("query IAsyncInfo: %w", err)
	}
	info := &winrtObject{insp: (*ole.IInspectable)(unsafe.Pointer(asyncInfo))}
	defer info.Release()

	deadline := time.Now().Add(timeout)
	for {
		// IAsyncInfo slot 7 is get_Status; 0 means Started
		status, err := info.callInt32(7)
		if err != nil {
			return nil, fmt.Errorf("get async status: %w", err)
		}

		if status != 0 {
			if status != 1 { // 1 = Completed
				return nil, fmt.Errorf("async operation ended with status %d", status)
			}
			break
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(time.Millisecond * 10)
	}

	return op.callObject(8)
}

// awaitBoolOperation is awaitOperation for IAsyncOperation<bool>, which the
// session's Try* control methods all return.
func awaitBoolOperation(op *winrtObject, timeout time.Duration) (bool, error) {
	defer op.Release()

	asyncInfo, err := op.insp.QueryInterface(iidAsyncInfo)
	if err != nil {
		return false, fmt.Errorf("query IAsyncInfo: %w", err)
	}
	info := &winrtObject{insp: (*ole.IInspectable)(unsafe.Pointer(asyncInfo))}
	defer info.Release()

	deadline := time.Now().Add(timeout)
	for {
		status, err := info.callInt32(7)
		if err != nil {
			return false, fmt.Errorf("get async status: %w", err)
		}

		if status != 0 {
			if status != 1 {
				return false, fmt.Errorf("async operation ended with status %d", status)
			}
			break
		}

		if time.Now().After(deadline) {
			return false, ErrTimeout
		}
		time.Sleep(time.Millisecond * 10)
	}

	var result bool
	if err := op.call(8, uintptr(unsafe.Pointer(&result))); err != nil {
		return false, err
	}
	return result, nil
}

// requestSessionManager activates the SMTC manager statics and awaits
// RequestAsync. Requires Windows 10 1803 or later.
func requestSessionManager(timeout time.Duration) (*winrtObject, error) {
	factory, err := ole.RoGetActivationFactory(smtcManagerClass, iidSessionManagerStatics)
	if err != nil {
		return nil, fmt.Errorf("activate session manager statics: %w", err)
	}
	statics := &winrtObject{insp: factory}
	defer statics.Release()

	// statics slot 6 is RequestAsync
	op, err := statics.callObject(6)
	if err != nil {
		return nil, fmt.Errorf("request session manager: %w", err)
	}

	manager, err := awaitOperation(op, timeout)
	if err != nil {
		return nil, fmt.Errorf("await session manager: %w", err)
	}
	return manager, nil
}

// vectorSize reads get_Size (slot 7) of an IVectorView.
func vectorSize(vec *winrtObject) (int, error) {
	var size uint32
	if err := vec.call(7, uintptr(unsafe.Pointer(&size))); err != nil {
		return 0, fmt.Errorf("get vector size: %w", err)
	}
	return int(size), nil
}

// vectorAt reads GetAt (slot 6) of an IVectorView of interface pointers.
func vectorAt(vec *winrtObject, index int) (*winrtObject, error) {
	return vec.callObject(6, uintptr(uint32(index)))
}

// vectorStringAt reads GetAt of an IVectorView<String>.
func vectorStringAt(vec *winrtObject, index int) (string, error) {
	var out ole.HString
	if err := vec.call(6, uintptr(uint32(index)), uintptr(unsafe.Pointer(&out))); err != nil {
		return "", err
	}

	s := out.String()
	ole.DeleteHString(out)
	return s, nil
}
