package main

import (
	"flag"
	"log"
	"net"

	"github.com/navaz-alani/callmgr"
)

var (
	laddrStr = flag.String("listen-addr", "0.0.0.0:10000", "listen-address of the call manager")
	idPrefix = flag.String("id-prefix", "TC", "prefix for minted call ids")
	secure   = flag.Bool("secure", true, "whether to use transport layer encryption")
)

func main() {
	flag.Parse()
	addr, err := net.ResolveUDPAddr("udp", *laddrStr)
	if err != nil {
		log.Fatalln("listen addr resolve fail: ", err.Error())
	}
	mgr, err := callmgr.NewCallManager(addr, *idPrefix, *secure)
	if err != nil {
		log.Fatalln("manager init fail: ", err.Error())
	}
	log.Println("Call manager listening on ", addr.String())
	mgr.Serve()
}
