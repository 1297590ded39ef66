package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arjuncodes/peerctl/config"
	"github.com/arjuncodes/peerctl/diag"
	"github.com/arjuncodes/peerctl/p2p"
)

var (
	runCommonCfg string
	runPeerCfg   string
	runDataDir   string
)

var runCmd = &cobra.Command{
	Use:   "run <peerId>",
	Short: "Start a peer process for one entry of PeerInfo.cfg",
	Long:  `Loads Common.cfg and PeerInfo.cfg, then dials every earlier peer and listens for later ones, exchanging pieces until the whole roster has the file.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runCommonCfg, "common", "Common.cfg", "Path to Common.cfg")
	runCmd.Flags().StringVar(&runPeerCfg, "peers", "PeerInfo.cfg", "Path to PeerInfo.cfg")
	runCmd.Flags().StringVar(&runDataDir, "data", ".", "Directory holding/receiving the shared file and per-peer logs")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	peerID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("peerId must be an integer: %w", err)
	}

	params, err := config.LoadCommon(runCommonCfg)
	if err != nil {
		return err
	}
	roster, err := config.LoadRoster(runPeerCfg)
	if err != nil {
		return err
	}
	self, ok := config.Find(roster, peerID)
	if !ok {
		return fmt.Errorf("peer %d is not listed in %s", peerID, runPeerCfg)
	}

	PrintHeader(fmt.Sprintf("peer %d", peerID))
	PrintKeyValue("listening", fmt.Sprintf("%s:%d", self.Host, self.Port))
	PrintKeyValue("file", params.FileName)
	PrintKeyValue("pieces", strconv.Itoa(params.PieceCount))
	PrintKeyValue("has file", strconv.FormatBool(self.HasFile))

	ctrl, err := p2p.NewController(runDataDir, peerID, roster, params)
	if err != nil {
		return err
	}

	if params.MetricsRedisAddr != "" {
		PrintInfo("metrics mirror: " + params.MetricsRedisAddr)
	}

	snap := diag.NewWriter(runDataDir, peerID, ctrl.Swarm())
	snap.Start()
	defer snap.Stop()

	PrintSuccess("peer started, connecting to roster")
	return ctrl.Run()
}
