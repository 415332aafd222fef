package scoring

// DDRInputs are the population-normalized DNA damage response panel scores
// of one cell.
type DDRInputs struct {
	ReplicationStress float64
	Checkpoint        float64
	ForkStability     float64
	HR                float64
	NHEJ              float64
	Compaction        float64
	OpenState         float64
}

// ddr derives the replication stress, repair balance, compaction and
// transcription-replication conflict axes.
func (e *AxisEngine) ddr(in DDRInputs, tbi float64) (rss, drbi, cci, trci float64) {
	w := &e.p.DDR
	forkInstability := Clip01(1 - in.ForkStability)
	rss = Clip01(w.RSSReplicationStress*in.ReplicationStress +
		w.RSSCheckpoint*in.Checkpoint +
		w.RSSForkInstability*forkInstability -
		w.RSSForkStability*in.ForkStability)
	drbi = Clip01((in.HR - in.NHEJ + 1) * 0.5)
	cci = Clip01(w.CCICompaction*in.Compaction - w.CCIOpen*in.OpenState)
	trci = Clip01(w.TRCIReplicationStress*in.ReplicationStress +
		w.TRCITranscription*tbi -
		w.TRCIForkStability*in.ForkStability)
	return rss, drbi, cci, trci
}
