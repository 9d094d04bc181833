// Command buildctld serves the HTTP API for one or more configured
// machines, each built from its own machine configuration file and driven
// by a driver selected from its <driver type="..."> attribute.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mastercactapus/buildctl/controller"
	"github.com/mastercactapus/buildctl/driverimpl/filecapture"
	"github.com/mastercactapus/buildctl/driverimpl/sdcapture"
	"github.com/mastercactapus/buildctl/driverimpl/serial"
	"github.com/mastercactapus/buildctl/driverimpl/wsbridge"
	"github.com/mastercactapus/buildctl/internal/config"
	"github.com/mastercactapus/buildctl/internal/driverapi"
	"github.com/mastercactapus/buildctl/internal/httpapi"
	"github.com/mastercactapus/buildctl/internal/simulator"
)

func main() {
	log.SetFlags(log.Lshortfile)

	addr := flag.String("addr", ":9091", "Address to bind the HTTP API to.")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		log.Fatal("usage: buildctld [-addr :9091] machine1.xml [machine2.xml ...]")
	}

	r := mux.NewRouter()
	for _, path := range paths {
		name, err := mountMachine(r, path)
		if err != nil {
			log.Fatalf("buildctld: %s: %+v", path, err)
		}
		log.Printf("mounted %q at /machines/%s/", name, name)
	}

	handler := withCORS(r)
	log.Printf("listening on %s", *addr)
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatal(err)
	}
}

func mountMachine(r *mux.Router, path string) (string, error) {
	c, err := controller.Open(path, buildDriver, simulator.New(1), nil)
	if err != nil {
		return "", err
	}

	machine, err := config.Load(path)
	if err != nil {
		return "", err
	}
	name := machine.Name
	if name == "" {
		name = strings.TrimSuffix(strings.ToLower(path), ".xml")
	}

	api := httpapi.New(c)
	r.PathPrefix("/machines/" + name + "/").Handler(http.StripPrefix("/machines/"+name, api))
	return name, nil
}

// buildDriver constructs a live driver from a machine configuration's
// opaque <driver> subtree, decorated with the host-file and on-device
// capture capabilities every machine gets regardless of its transport.
func buildDriver(cfg config.Driver) (driverapi.Device, error) {
	var base driverapi.Device
	var err error

	switch cfg.Type {
	case "serial":
		base, err = buildSerialDriver(cfg)
	case "wsbridge":
		base, err = buildWSBridgeDriver(cfg)
	default:
		return nil, fmt.Errorf("buildctld: unknown driver type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	return filecapture.Wrap(sdcapture.Wrap(base)), nil
}

type serialAttrs struct {
	Name string `xml:"name,attr"`
	Baud string `xml:"baud,attr"`
}

func buildSerialDriver(cfg config.Driver) (driverapi.Device, error) {
	attrs, err := parseAttrs(cfg.InnerXML)
	if err != nil {
		return nil, err
	}
	baud, err := strconv.Atoi(attrs["baud"])
	if err != nil {
		baud = 115200
	}

	d := serial.New()
	port, err := serial.Open(serial.Config{Name: attrs["name"], Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("buildctld: open serial port: %w", err)
	}
	d.SetSerial(port)
	if err := d.Initialize(); err != nil {
		return nil, err
	}
	return d, nil
}

func buildWSBridgeDriver(cfg config.Driver) (driverapi.Device, error) {
	attrs, err := parseAttrs(cfg.InnerXML)
	if err != nil {
		return nil, err
	}
	d := wsbridge.New(wsbridge.Config{URL: attrs["url"], Port: attrs["port"]})
	if err := d.Initialize(); err != nil {
		return nil, err
	}
	return d, nil
}

// parseAttrs pulls name="value" pairs out of a <driver>'s InnerXML without
// a full decoder, since the subtree is usually a single self-closing tag
// like <serial name="/dev/ttyUSB0" baud="115200"/>.
func parseAttrs(inner string) (map[string]string, error) {
	out := make(map[string]string)
	for _, tok := range strings.Fields(strings.NewReplacer("/>", " >", "<", " <", ">", "> ").Replace(inner)) {
		eq := strings.Index(tok, "=")
		if eq < 0 {
			continue
		}
		key := tok[:eq]
		val := strings.Trim(tok[eq+1:], `"`)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out, nil
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
		h.ServeHTTP(w, req)
	})
}
