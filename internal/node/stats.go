package node

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/natanbc/andesite/internal/telemetry"
)

// expectedFrames is the number of frames one player sends per minute.
const expectedFrames = telemetry.WindowSeconds * int(time.Second/(20*time.Millisecond))

// PlayerStats counts players.
type PlayerStats struct {
	Total   int `json:"total"`
	Playing int `json:"playing"`
}

// RuntimeStats describes the process.
type RuntimeStats struct {
	Uptime     int64  `json:"uptime"` // milliseconds
	PID        int    `json:"pid"`
	GoVersion  string `json:"goVersion"`
	Goroutines int    `json:"goroutines"`
	GoMaxProcs int    `json:"gomaxprocs"`
}

// OSStats describes the host.
type OSStats struct {
	Processors int    `json:"processors"`
	Name       string `json:"name"`
	Arch       string `json:"arch"`
}

// CPUStats holds load fractions in [0, 1].
type CPUStats struct {
	Cores   int     `json:"cores"`
	System  float64 `json:"system"`
	Process float64 `json:"andesite"`
}

// MemoryStats holds Go heap statistics in bytes.
type MemoryStats struct {
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	HeapIdle   uint64 `json:"heapIdle"`
	HeapSys    uint64 `json:"heapSys"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"numGc"`
	PauseTotal int64  `json:"pauseTotal"` // milliseconds
}

// FrameTotals averages frame delivery over players with usable telemetry.
type FrameTotals struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// Stats is the native node statistics document.
type Stats struct {
	Players    PlayerStats  `json:"players"`
	Runtime    RuntimeStats `json:"runtime"`
	OS         OSStats      `json:"os"`
	CPU        CPUStats     `json:"cpu"`
	Memory     MemoryStats  `json:"memory"`
	FrameStats *FrameTotals `json:"frameStats,omitempty"`
}

// LavalinkMemory is the memory section of [LavalinkStats].
type LavalinkMemory struct {
	Free       uint64 `json:"free"`
	Used       uint64 `json:"used"`
	Allocated  uint64 `json:"allocated"`
	Reservable uint64 `json:"reservable"`
}

// LavalinkCPU is the cpu section of [LavalinkStats].
type LavalinkCPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// LavalinkStats is the statistics message of compatibility clients.
type LavalinkStats struct {
	Op             string         `json:"op"`
	Players        int            `json:"players"`
	PlayingPlayers int            `json:"playingPlayers"`
	Uptime         int64          `json:"uptime"`
	Memory         LavalinkMemory `json:"memory"`
	CPU            LavalinkCPU    `json:"cpu"`
	FrameStats     *FrameTotals   `json:"frameStats,omitempty"`
}

// Stats collects the node statistics.
func (n *Node) Stats() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	sys, proc := n.cpu.sample()
	return Stats{
		Players: n.playerStats(),
		Runtime: RuntimeStats{
			Uptime:     n.now().Sub(n.started).Milliseconds(),
			PID:        os.Getpid(),
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			GoMaxProcs: runtime.GOMAXPROCS(0),
		},
		OS: OSStats{
			Processors: runtime.NumCPU(),
			Name:       runtime.GOOS,
			Arch:       runtime.GOARCH,
		},
		CPU: CPUStats{Cores: runtime.NumCPU(), System: sys, Process: proc},
		Memory: MemoryStats{
			HeapAlloc:  mem.HeapAlloc,
			HeapInuse:  mem.HeapInuse,
			HeapIdle:   mem.HeapIdle,
			HeapSys:    mem.HeapSys,
			Sys:        mem.Sys,
			NumGC:      mem.NumGC,
			PauseTotal: time.Duration(mem.PauseTotalNs).Milliseconds(),
		},
		FrameStats: n.frameTotals(),
	}
}

// LavalinkStats converts [Node.Stats] to the compatibility shape.
func (n *Node) LavalinkStats() LavalinkStats {
	st := n.Stats()
	return LavalinkStats{
		Op:             OpStats,
		Players:        st.Players.Total,
		PlayingPlayers: st.Players.Playing,
		Uptime:         st.Runtime.Uptime,
		Memory: LavalinkMemory{
			Free:       st.Memory.HeapIdle,
			Used:       st.Memory.HeapAlloc,
			Allocated:  st.Memory.HeapSys,
			Reservable: st.Memory.Sys,
		},
		CPU: LavalinkCPU{
			Cores:        st.CPU.Cores,
			SystemLoad:   st.CPU.System,
			LavalinkLoad: st.CPU.Process,
		},
		FrameStats: st.FrameStats,
	}
}

func (n *Node) playerStats() PlayerStats {
	all := n.registry.All()
	ps := PlayerStats{Total: len(all)}
	for _, s := range all {
		if s.Player.IsPlaying() {
			ps.Playing++
		}
	}
	return ps
}

// frameTotals returns nil when no player has a full minute of telemetry.
func (n *Node) frameTotals() *FrameTotals {
	var sent, lost, count int
	for _, s := range n.registry.All() {
		c := s.Player.Counter()
		if !c.IsDataUsable() {
			continue
		}
		sent += c.LastMinuteSuccess().Sum()
		lost += c.LastMinuteLoss().Sum()
		count++
	}
	if count == 0 {
		return nil
	}
	ft := &FrameTotals{Sent: sent / count, Nulled: lost / count}
	ft.Deficit = expectedFrames - ft.Sent - ft.Nulled
	return ft
}

// cpuSampler derives load fractions from /proc between two samples. On
// platforms without procfs both loads read zero.
type cpuSampler struct {
	mu       sync.Mutex
	at       time.Time
	total    float64
	idle     float64
	procTime float64
}

func (c *cpuSampler) sample() (system, process float64) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, 0
	}
	st, err := fs.Stat()
	if err != nil {
		return 0, 0
	}
	self, err := fs.Self()
	if err != nil {
		return 0, 0
	}
	ps, err := self.Stat()
	if err != nil {
		return 0, 0
	}
	cpu := st.CPUTotal
	total := cpu.User + cpu.Nice + cpu.System + cpu.Idle + cpu.Iowait + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
	idle := cpu.Idle + cpu.Iowait
	procTime := ps.CPUTime()
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.at.IsZero() {
		if dt := total - c.total; dt > 0 {
			system = clamp01(1 - (idle-c.idle)/dt)
		}
		if wall := now.Sub(c.at).Seconds() * float64(runtime.NumCPU()); wall > 0 {
			process = clamp01((procTime - c.procTime) / wall)
		}
	}
	c.at, c.total, c.idle, c.procTime = now, total, idle, procTime
	return system, process
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
