// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libchurchhouse.so (Android) / churchhouse.framework (iOS)
//
// Every function returning *C.char hands ownership to the caller, who must
// release it with FreeString.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

//export Init
// Init assembles the core from a config file. An empty path uses defaults.
func Init(configPath *C.char) *C.char {
	return C.CString(core.init(C.GoString(configPath)))
}

//export Cleanup
// Cleanup releases every view and closes the store.
func Cleanup() {
	core.cleanup()
}

// =====================================================
// View Operations
// =====================================================

//export ViewOpen
func ViewOpen(kind, request *C.char) *C.char {
	return C.CString(core.open(C.GoString(kind), C.GoString(request)))
}

//export ViewLoadInitial
func ViewLoadInitial(viewID, filter *C.char) *C.char {
	return C.CString(core.loadInitial(C.GoString(viewID), C.GoString(filter)))
}

//export ViewLoadMore
func ViewLoadMore(viewID *C.char) *C.char {
	return C.CString(core.loadMore(C.GoString(viewID)))
}

//export ViewRefresh
func ViewRefresh(viewID *C.char) *C.char {
	return C.CString(core.refresh(C.GoString(viewID)))
}

//export ViewSnapshot
func ViewSnapshot(viewID *C.char) *C.char {
	return C.CString(core.snapshot(C.GoString(viewID)))
}

//export ViewDismissError
func ViewDismissError(viewID *C.char) *C.char {
	return C.CString(core.dismissError(C.GoString(viewID)))
}

//export ViewRelease
func ViewRelease(viewID *C.char) *C.char {
	return C.CString(core.release(C.GoString(viewID)))
}

//export ViewList
func ViewList() *C.char {
	return C.CString(core.views())
}

// =====================================================
// Item Operations
// =====================================================

//export ItemCreate
// ItemCreate takes a JSON draft and returns the optimistic item's final state.
func ItemCreate(viewID, draft *C.char) *C.char {
	return C.CString(core.createItem(C.GoString(viewID), C.GoString(draft)))
}

//export ItemRemove
func ItemRemove(viewID, itemID *C.char) *C.char {
	return C.CString(core.removeItem(C.GoString(viewID), C.GoString(itemID)))
}

//export ItemInteract
func ItemInteract(viewID, itemID, interaction *C.char) *C.char {
	return C.CString(core.applyMutation(C.GoString(viewID), C.GoString(itemID), C.GoString(interaction)))
}

//export KindInteractions
func KindInteractions(kind *C.char) *C.char {
	return C.CString(core.interactions(C.GoString(kind)))
}

// =====================================================
// Events
// =====================================================

//export EventsSubscribe
func EventsSubscribe(viewID *C.char) *C.char {
	return C.CString(core.subscribe(C.GoString(viewID)))
}

//export EventsPoll
func EventsPoll(subscriptionID *C.char) *C.char {
	return C.CString(core.poll(C.GoString(subscriptionID)))
}

//export EventsUnsubscribe
func EventsUnsubscribe(subscriptionID *C.char) {
	core.unsubscribe(C.GoString(subscriptionID))
}

//export FreeString
// FreeString frees a string returned by any export.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func main() {
	// Required for c-shared build mode; never runs in the host app.
}
