package io

import (
	"github.com/nostalgiaos/kernel/rtl"
)

// DispatchRoutine handles one major function for a device. Grounded on
// fuse/opcode.go's opcode->handler table: a fixed array of function
// values indexed by operation code, generalized here to IRP major
// functions.
type DispatchRoutine func(dev *DeviceObject, irp *Irp)

// DeviceObject is one link of a device stack (spec.md §4.4): I/O
// targets the top of the stack and, if a handler forwards the IRP
// (CallNext), travels downward one level at a time. A device with no
// Lower is the bottom of the stack — in this kernel, the Volume-backed
// device driver.
type DeviceObject struct {
	Name string

	Lower *DeviceObject

	dispatch [IrpMjDeviceControl + 1]DispatchRoutine

	Volume *Volume
}

// NewDeviceObject creates a device named name, optionally stacked atop
// lower (nil for the bottom of the stack).
func NewDeviceObject(name string, lower *DeviceObject) *DeviceObject {
	return &DeviceObject{Name: name, Lower: lower}
}

// SetDispatch installs the handler for one major function.
func (d *DeviceObject) SetDispatch(major MajorFunction, fn DispatchRoutine) {
	d.dispatch[major] = fn
}

// Dispatch sends irp to this device's handler for irp.Major. A device
// with no handler registered for that major function forwards straight
// to Lower, matching NT's default IoCallDriver passthrough.
func (d *DeviceObject) Dispatch(irp *Irp) {
	fn := d.dispatch[irp.Major]
	if fn == nil {
		if d.Lower != nil {
			d.Lower.Dispatch(irp)
			return
		}
		irp.Complete(rtl.StatusNotImplemented, 0)
		return
	}
	fn(d, irp)
}

// CallNext forwards irp to the next device down the stack from dev,
// for a handler that wants to pass the request on rather than complete
// it itself.
func (dev *DeviceObject) CallNext(irp *Irp) {
	if dev.Lower == nil {
		irp.Complete(rtl.StatusNoMoreEntries, 0)
		return
	}
	dev.Lower.Dispatch(irp)
}
