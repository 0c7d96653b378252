package emu

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace         bool // log CPU instructions
	LimitFPS      bool // not read by Machine; StepFrame never throttles
	UseFetcherBG  bool // stored only; DMG BG/window always renders via the fetcher path
	ForceDMG      bool // ignore the cartridge's CGB flag and run as plain DMG
	SampleRate    int  // APU output sample rate; 0 uses the bus default (48000)
	RewindSeconds int  // how many seconds of rewind history to retain; 0 disables rewind
}
