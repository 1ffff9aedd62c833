package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"transcodeserver/internal/registry"
)

const defaultSegmentDurationS = 4

// WriteMasterPlaylist emits the job's master.m3u8 at job start, enumerating
// the media playlist(s) for every variant, per §4.7 ("the master.m3u8
// emitted at job start declares the media playlist(s)"). Subtitle tracks
// are referenced as additional EXT-X-MEDIA entries of TYPE=SUBTITLES, one
// per declared track, honoring the `default` flag, §4.5.2.
func WriteMasterPlaylist(plan *Plan, subtitles []subtitleTrack) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")

	for _, t := range subtitles {
		def := "NO"
		if t.Default {
			def = "YES"
		}
		fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"subs\",NAME=\"%s\",LANGUAGE=\"%s\",DEFAULT=%s,URI=\"subs/%s.vtt\"\n",
			t.Lang, t.Lang, def, t.Lang)
	}

	for _, v := range plan.Variants {
		bandwidth := v.BitrateKbps * 1000
		subsAttr := ""
		if len(subtitles) > 0 {
			subsAttr = ",SUBTITLES=\"subs\""
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=x%d%s\n", bandwidth, v.Height, subsAttr)
		fmt.Fprintf(&b, "%s/playlist.m3u8\n", v.Name)
	}

	return writeFileAtomic(plan.MasterPlaylist, []byte(b.String()))
}

type subtitleTrack struct {
	Lang    string
	Default bool
}

// RewriteVariantPlaylists scans each variant's working directory for
// completed segment files and atomically (write-then-rename) rewrites that
// variant's media playlist to reference the current prefix of segments,
// per §4.7's concurrency contract: the encoder writes segment files, the
// worker then writes the playlist referencing them, so a reader that reads
// the playlist before the segments it names is guaranteed those segments
// are already complete on disk.
//
// When the attempt is still running, the highest-numbered segment is
// treated as possibly still being written and excluded from the playlist;
// once done is true (the encoder reported progress=end) every segment is
// included and an EXT-X-ENDLIST marker is appended.
func RewriteVariantPlaylists(plan *Plan, segmentDurationS int, done bool) error {
	if segmentDurationS <= 0 {
		segmentDurationS = defaultSegmentDurationS
	}

	for _, v := range plan.Variants {
		variantDir := filepath.Join(plan.WorkingDir, v.Name)
		segments, err := listSegments(variantDir)
		if err != nil {
			return fmt.Errorf("list segments for %s: %w", v.Name, err)
		}
		if !done && len(segments) > 0 {
			segments = segments[:len(segments)-1]
		}

		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-PLAYLIST-TYPE:VOD\n")
		fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", segmentDurationS)
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		for _, seg := range segments {
			fmt.Fprintf(&b, "#EXTINF:%d.0,\n%s\n", segmentDurationS, seg)
		}
		if done {
			b.WriteString("#EXT-X-ENDLIST\n")
		}

		if err := writeFileAtomic(filepath.Join(variantDir, "playlist.m3u8"), []byte(b.String())); err != nil {
			return fmt.Errorf("write playlist for %s: %w", v.Name, err)
		}
	}
	return nil
}

func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "segment_") || !strings.HasSuffix(e.Name(), ".ts") {
			continue
		}
		names = append(names, e.Name())
	}

	sort.Slice(names, func(i, j int) bool {
		return segmentIndex(names[i]) < segmentIndex(names[j])
	})
	return names, nil
}

func segmentIndex(name string) int {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "segment_"), ".ts")
	n, _ := strconv.Atoi(trimmed)
	return n
}

// JobPathsFor returns the master playlist path and the working directory
// of a job, the root of §6's "Persisted state layout" (master.m3u8,
// {variant}/playlist.m3u8, {variant}/segment_{nnnnn}.ts, subs/{lang}.vtt).
func JobPathsFor(job *registry.Job) (masterPath string, workingDir string) {
	return filepath.Join(job.WorkingDir, "master.m3u8"), job.WorkingDir
}
