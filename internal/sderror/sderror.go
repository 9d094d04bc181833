// Package sderror maps a driverapi.ResponseCode from an on-device storage
// operation to the fixed, user-facing message the build pipeline surfaces
// through a prompt.UserPrompt. Success produces no message at all; callers
// should check for it before consulting the table.
package sderror

import "github.com/mastercactapus/buildctl/internal/driverapi"

var messages = map[driverapi.ResponseCode]string{
	driverapi.FailNoCard: "No SD card was detected. Make sure a working, formatted SD card " +
		"is seated in the slot and try again.",
	driverapi.FailInit: "The SD card could not be initialized. Make sure the card itself " +
		"is in working order.",
	driverapi.FailPartition: "The SD card's partition table could not be read. Check that " +
		"the card is partitioned properly; if it looks fine, reset the device and try again.",
	driverapi.FailFS: "The filesystem on the SD card could not be opened. Make sure the " +
		"card has a single FAT16 partition.",
	driverapi.FailRootDir: "The root directory on the SD card could not be read. Check " +
		"whether the card was formatted properly.",
	driverapi.FailLocked: "The SD card is locked and cannot be written to. Remove the card, " +
		"switch the lock off, and try again.",
	driverapi.FailNoFile: "The build file could not be found on the SD card.",
	driverapi.FailGeneric: "Unknown SD card error.",
}

// Message returns the fixed message for code, or "" if code is Success.
func Message(code driverapi.ResponseCode) string {
	return messages[code]
}
