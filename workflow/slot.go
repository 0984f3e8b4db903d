package workflow

// SlotType is the semantic type of an input or output slot.
type SlotType string

const (
	SlotString  SlotType = "string"
	SlotNumber  SlotType = "number"
	SlotInteger SlotType = "integer"
	SlotBoolean SlotType = "boolean"
	SlotObject  SlotType = "object"
	SlotArray   SlotType = "array"
	SlotImage   SlotType = "image"
	SlotVideo   SlotType = "video"
	SlotAudio   SlotType = "audio"
	SlotMask    SlotType = "mask"
	SlotLatent  SlotType = "latent"
)

var knownSlotTypes = map[SlotType]struct{}{
	SlotString:  {},
	SlotNumber:  {},
	SlotInteger: {},
	SlotBoolean: {},
	SlotObject:  {},
	SlotArray:   {},
	SlotImage:   {},
	SlotVideo:   {},
	SlotAudio:   {},
	SlotMask:    {},
	SlotLatent:  {},
}

// Valid reports whether t belongs to the closed set of slot types.
func (t SlotType) Valid() bool {
	_, ok := knownSlotTypes[t]
	return ok
}

// Wildcard reports whether a target slot of this type accepts any source.
func (t SlotType) Wildcard() bool {
	return t == SlotObject || t == SlotArray
}

// Compatible reports whether a value produced by a source slot may be routed
// into a target slot: identical types, or a wildcard container target.
func Compatible(source, target SlotType) bool {
	return source == target || target.Wildcard()
}

// SlotTypes lists every valid slot type.
func SlotTypes() []SlotType {
	return []SlotType{
		SlotString, SlotNumber, SlotInteger, SlotBoolean, SlotObject, SlotArray,
		SlotImage, SlotVideo, SlotAudio, SlotMask, SlotLatent,
	}
}
