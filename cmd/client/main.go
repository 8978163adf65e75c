package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/navaz-alani/callmgr"
)

var (
	secure     = flag.Bool("secure", true, "whether to use transport layer & end-to-end encryption")
	sampleRate = flag.Int("sample-rate", 8000, "audio sample rate (higher -> more throughput)")
	laddrStr   = flag.String("l-addr", "", "listen-address of the client")
	svrAddrStr = flag.String("s-addr", "", "address of the call manager")
	alias      = flag.String("alias", "", "alias to register under")
	callee     = flag.String("call", "", "alias to call; leave empty to wait for a call")
)

func handleFlags() {
	flag.Parse()
	if *laddrStr == "" || *svrAddrStr == "" || *alias == "" {
		fmt.Printf(
			`usage: %s -l-addr=<listen-address> -s-addr=<server-address> -alias=<alias> [-call=<callee-alias>]`,
			os.Args[0],
		)
		fmt.Printf("\n")
		os.Exit(1)
	}
}

func main() {
	handleFlags()
	var laddr, svrAddr *net.UDPAddr
	var err error
	{
		svrAddr, err = net.ResolveUDPAddr("udp", *svrAddrStr)
		chkErr("svrAddr resolve fail: ", err)
		laddr, err = net.ResolveUDPAddr("udp", *laddrStr)
		chkErr("laddr resolve fail: ", err)
	}
	client, err := callmgr.NewCallClient(svrAddr, laddr, *sampleRate, *secure)
	chkErr("client init fail: ", err)
	chkErr("register fail: ", client.Register(*alias))

	var callID string
	if *callee != "" {
		// prompt for call start
		fmt.Printf("Press any key to begin call with \"%s\"\n", *callee)
		bufio.NewReader(os.Stdin).ReadRune()
		callID, err = client.PlaceCall(*callee)
		chkErr("place call fail: ", err)
		fmt.Printf("Calling %s (call id %s)...\n", *callee, callID)
	} else {
		fmt.Printf("Waiting for a call as \"%s\"...\n", *alias)
		invite := <-client.Invites()
		fmt.Printf("Incoming call %s from %s. Answer? [y/N] ", invite.CallID, invite.Peer)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y") {
			chkErr("reject fail: ", client.EndCall(invite.CallID))
			return
		}
		chkErr("answer fail: ", client.Answer(invite.CallID))
		callID = invite.CallID
	}

	// execute call
	callDone := make(chan struct{})
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		chkErr("audio channel error: ", client.OpenAudioChan(callDone, callID))
	}()
	fmt.Printf("Call started. Press Ctrl+C to end.\n")
	// handle closure
	killChan := make(chan os.Signal, 1)
	signal.Notify(killChan, os.Interrupt, syscall.SIGTERM)
	<-killChan
	fmt.Printf("Ending call...\n")
	callDone <- struct{}{}
	wg.Wait()
	if err := client.EndCall(callID); err != nil {
		log.Println("end call: ", err.Error())
	}
	fmt.Printf("Call ended.\n")
}

func chkErr(prefix string, err error) {
	if err != nil {
		log.Fatalln(prefix, err.Error())
	}
}
