// Package monitoring turns a measurement run into a small web server so
// the run's state, progress, and resource usage can be watched from
// outside while the threads are busy.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor serves a measurement run's state over HTTP. It implements the
// harness's ProgressSink, so the harness drives the status and progress
// endpoints directly.
type Monitor struct {
	portNumber  int
	openBrowser bool

	targetsLock sync.Mutex
	targetNames []string
	targets     map[string]any

	statusLock  sync.Mutex
	phase       string
	sweepStep   int
	banksDone   int
	sweepBar    *ProgressBar
	floodBar    *ProgressBar
	totalSweeps int
	totalBanks  int
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		phase:   "idle",
		targets: make(map[string]any),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowserLaunch makes the monitor open the status page when the
// server starts.
func (m *Monitor) WithBrowserLaunch() *Monitor {
	m.openBrowser = true
	return m
}

// WithSweepShape tells the monitor the run's extent: how many sweep steps
// there are and how many banks each step floods.
func (m *Monitor) WithSweepShape(sweeps, banks int) *Monitor {
	m.totalSweeps = sweeps
	m.totalBanks = banks
	return m
}

// RegisterTarget registers a named object whose state the /api/target
// endpoint can serialize.
func (m *Monitor) RegisterTarget(name string, target any) {
	m.targetsLock.Lock()
	defer m.targetsLock.Unlock()

	if _, dup := m.targets[name]; dup {
		panic(fmt.Sprintf("target %s is already registered", name))
	}

	m.targetNames = append(m.targetNames, name)
	m.targets[name] = target
}

// Phase implements the harness's ProgressSink.
func (m *Monitor) Phase(name string) {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()

	m.phase = name
}

// SweepStarted implements the harness's ProgressSink.
func (m *Monitor) SweepStarted(victimThreads int) {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()

	m.sweepStep = victimThreads
	m.banksDone = 0

	if m.sweepBar != nil {
		m.sweepBar.IncrementFinished(1)
	}
	if m.floodBar != nil {
		m.floodBar.Reset(uint64(m.totalBanks))
	}
}

// BankFlooded implements the harness's ProgressSink.
func (m *Monitor) BankFlooded(bank int) {
	m.statusLock.Lock()
	defer m.statusLock.Unlock()

	m.banksDone = bank + 1

	if m.floodBar != nil {
		m.floodBar.IncrementFinished(1)
	}
}

// StartServer starts the monitor as a web server, with a random port if
// none was assigned.
func (m *Monitor) StartServer() {
	m.sweepBar = &ProgressBar{
		ID:        xid.New().String(),
		Name:      "victim-thread sweep",
		StartTime: time.Now(),
		Total:     uint64(m.totalSweeps),
	}
	m.floodBar = &ProgressBar{
		ID:        xid.New().String(),
		Name:      "bank floods",
		StartTime: time.Now(),
		Total:     uint64(m.totalBanks),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/list_targets", m.listTargets)
	r.HandleFunc("/api/target/{name}", m.targetDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	http.Handle("/", r)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(os.Stderr,
		"Monitoring measurement with http://localhost:%d\n", port)

	if m.openBrowser {
		err := browser.OpenURL(
			fmt.Sprintf("http://localhost:%d/api/status", port))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %s\n", err)
		}
	}

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()
}

type statusRsp struct {
	Phase         string `json:"phase"`
	VictimThreads int    `json:"victim_threads"`
	BanksFlooded  int    `json:"banks_flooded"`
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	m.statusLock.Lock()
	rsp := statusRsp{
		Phase:         m.phase,
		VictimThreads: m.sweepStep,
		BanksFlooded:  m.banksDone,
	}
	m.statusLock.Unlock()

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) listTargets(w http.ResponseWriter, _ *http.Request) {
	m.targetsLock.Lock()
	defer m.targetsLock.Unlock()

	fmt.Fprint(w, "[")
	for i, name := range m.targetNames {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "%q", name)
	}
	fmt.Fprint(w, "]")
}

func (m *Monitor) targetDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	m.targetsLock.Lock()
	target, found := m.targets[name]
	m.targetsLock.Unlock()

	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Target not found"))
		dieOnErr(err)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(target)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	bars := []*ProgressBar{m.sweepBar, m.floodBar}

	bytes, err := json.Marshal(bars)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bytes, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
