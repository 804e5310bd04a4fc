package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"golang.org/x/time/rate"

	"yashubustudio/jsonmanager/internal/store"
	"yashubustudio/jsonmanager/jsonmanager"
)

type uiState struct {
	app     fyne.App
	service *jsonmanager.Service
	prefs   jsonmanager.Preferences
	logger  *jsonmanager.Logger

	cfgMu sync.Mutex
	cfg   jsonmanager.Config

	w            fyne.Window
	dirEntry     *widget.Entry
	patternEntry *widget.Entry
	precEntry    *widget.Entry
	tolEntry     *widget.Entry
	cellEntry    *widget.Entry
	metricSel    *widget.Select

	ignoreEmptyCheck *widget.Check
	roundCheck       *widget.Check
	nameCheck        *widget.Check
	descCheck        *widget.Check
	clearNameCheck   *widget.Check
	nearCheck        *widget.Check
	mergeCheck       *widget.Check

	progress     *widget.ProgressBar
	statusBind   binding.String
	matchesBind  binding.String
	progressBind binding.Float
	logBind      binding.String

	beginBtn  *widget.Button
	stopBtn   *widget.Button
	browseBtn *widget.Button

	runMu  sync.Mutex
	cancel context.CancelFunc
}

func buildUI(a fyne.App, svc *jsonmanager.Service, prefs jsonmanager.Preferences, logger *jsonmanager.Logger, cfg jsonmanager.Config, logBind binding.String) *uiState {
	u := &uiState{app: a, service: svc, prefs: prefs, logger: logger, cfg: cfg, logBind: logBind}
	u.w = a.NewWindow("JSON Manager - 位置の重複検出")

	u.statusBind = binding.NewString()
	_ = u.statusBind.Set("準備完了")
	u.matchesBind = binding.NewString()
	u.progressBind = binding.NewFloat()

	u.dirEntry = widget.NewEntry()
	u.dirEntry.SetPlaceHolder("検索するフォルダ")
	u.browseBtn = widget.NewButtonWithIcon("参照", theme.FolderOpenIcon(), func() { u.onBrowse() })
	u.patternEntry = widget.NewEntry()
	u.patternEntry.SetPlaceHolder("*.json")
	u.precEntry = widget.NewEntry()
	u.precEntry.SetPlaceHolder("空欄で丸めなし")
	u.tolEntry = widget.NewEntry()
	u.cellEntry = widget.NewEntry()
	u.cellEntry.SetPlaceHolder("空欄で許容誤差と同じ")
	labels := make([]string, len(metricChoices))
	for i, c := range metricChoices {
		labels[i] = c.Label
	}
	u.metricSel = widget.NewSelect(labels, nil)

	u.ignoreEmptyCheck = widget.NewCheck("位置のないファイルを無視", nil)
	u.roundCheck = widget.NewCheck("丸めた位置をファイルに保存", nil)
	u.nameCheck = widget.NewCheck("name をファイル名に更新", nil)
	u.descCheck = widget.NewCheck("description を削除", nil)
	u.clearNameCheck = widget.NewCheck("name を空にする", nil)
	u.mergeCheck = widget.NewCheck("近似の連鎖を結合", nil)
	u.nearCheck = widget.NewCheck("近似重複を検出", func(on bool) { u.updateNearControls(on) })

	u.progress = widget.NewProgressBarWithData(u.progressBind)
	u.progress.Hide()

	u.beginBtn = widget.NewButtonWithIcon("開始", theme.MediaPlayIcon(), func() { u.onBegin() })
	u.stopBtn = widget.NewButtonWithIcon("停止", theme.MediaStopIcon(), func() { u.onStop() })
	u.stopBtn.Disable()

	u.applyForm(formFromConfig(cfg))

	logView := widget.NewEntryWithData(u.logBind)
	logView.MultiLine = true
	logView.Wrapping = fyne.TextWrapWord
	logView.SetPlaceHolder("処理ログ")
	logView.Disable()

	form := widget.NewForm(
		widget.NewFormItem("フォルダ", container.NewBorder(nil, nil, nil, u.browseBtn, u.dirEntry)),
		widget.NewFormItem("ファイルパターン", u.patternEntry),
		widget.NewFormItem("精度 (小数桁)", u.precEntry),
		widget.NewFormItem("許容誤差", u.tolEntry),
		widget.NewFormItem("セルサイズ", u.cellEntry),
		widget.NewFormItem("距離", u.metricSel),
	)
	options := container.NewGridWithColumns(2,
		u.ignoreEmptyCheck, u.roundCheck,
		u.nameCheck, u.descCheck,
		u.clearNameCheck, u.nearCheck,
		u.mergeCheck,
	)
	top := container.NewVBox(
		widget.NewLabelWithStyle("検索設定", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		form,
		options,
		container.NewGridWithColumns(2, u.beginBtn, u.stopBtn),
		widget.NewSeparator(),
		widget.NewLabelWithStyle("進捗", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		u.progress,
		widget.NewLabelWithData(u.statusBind),
		widget.NewLabelWithData(u.matchesBind),
		widget.NewSeparator(),
		widget.NewLabelWithStyle("ログ", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
	)

	u.w.SetContent(container.NewBorder(top, nil, nil, nil, logView))
	u.w.Resize(fyne.NewSize(760, 820))
	return u
}

func (u *uiState) applyForm(f formValues) {
	u.dirEntry.SetText(f.Directory)
	u.patternEntry.SetText(f.Pattern)
	u.precEntry.SetText(f.Precision)
	u.tolEntry.SetText(f.Tolerance)
	u.cellEntry.SetText(f.CellSize)
	u.metricSel.SetSelected(f.Metric)
	u.ignoreEmptyCheck.SetChecked(f.IgnoreEmpty)
	u.roundCheck.SetChecked(f.RoundAndPersist)
	u.nameCheck.SetChecked(f.UpdateName)
	u.descCheck.SetChecked(f.RemoveDescription)
	u.clearNameCheck.SetChecked(f.ClearName)
	u.mergeCheck.SetChecked(f.MergeChains)
	u.nearCheck.SetChecked(f.FindNear)
	u.updateNearControls(f.FindNear)
}

func (u *uiState) readForm() formValues {
	return formValues{
		Directory:         u.dirEntry.Text,
		Pattern:           u.patternEntry.Text,
		Precision:         u.precEntry.Text,
		Tolerance:         u.tolEntry.Text,
		CellSize:          u.cellEntry.Text,
		Metric:            u.metricSel.Selected,
		IgnoreEmpty:       u.ignoreEmptyCheck.Checked,
		RoundAndPersist:   u.roundCheck.Checked,
		UpdateName:        u.nameCheck.Checked,
		RemoveDescription: u.descCheck.Checked,
		ClearName:         u.clearNameCheck.Checked,
		FindNear:          u.nearCheck.Checked,
		MergeChains:       u.mergeCheck.Checked,
	}
}

func (u *uiState) updateNearControls(on bool) {
	for _, w := range []fyne.Disableable{u.tolEntry, u.cellEntry, u.metricSel, u.mergeCheck} {
		if on {
			w.Enable()
		} else {
			w.Disable()
		}
	}
}

func (u *uiState) onBrowse() {
	dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
		if err != nil {
			dialog.ShowError(err, u.w)
			return
		}
		if uri == nil {
			return
		}
		u.dirEntry.SetText(uri.Path())
	}, u.w)
}

func (u *uiState) setBusy(b bool) {
	fyne.Do(func() {
		if b {
			u.beginBtn.Disable()
			u.browseBtn.Disable()
			u.stopBtn.Enable()
			u.progress.Show()
		} else {
			u.beginBtn.Enable()
			u.browseBtn.Enable()
			u.stopBtn.Disable()
			u.progress.Hide()
		}
	})
}

func (u *uiState) setStatus(text string) {
	_ = u.statusBind.Set(text)
}

func (u *uiState) config() jsonmanager.Config {
	u.cfgMu.Lock()
	defer u.cfgMu.Unlock()
	return u.cfg.Clone()
}

func (u *uiState) savePrefs(cfg jsonmanager.Config) {
	u.cfgMu.Lock()
	u.cfg = cfg
	u.cfgMu.Unlock()
	if err := u.prefs.Save(cfg); err != nil {
		u.logger.Error("failed to save preferences", "error", err)
	}
}

func (u *uiState) onBegin() {
	cfg, err := u.readForm().config(u.config())
	if err != nil {
		dialog.ShowError(err, u.w)
		return
	}
	u.savePrefs(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	u.runMu.Lock()
	u.cancel = cancel
	u.runMu.Unlock()

	u.progress.Min = 0
	u.progress.Max = 1
	_ = u.progressBind.Set(0)
	_ = u.matchesBind.Set("")
	u.setStatus("検索中...")
	u.setBusy(true)

	go func() {
		defer cancel()
		sink := newGUIProgress(u)
		res, err := u.service.Run(ctx, cfg, sink)
		sink.flush()
		u.setBusy(false)
		u.runMu.Lock()
		u.cancel = nil
		u.runMu.Unlock()

		if res == nil {
			u.setStatus("エラー")
			fyne.Do(func() { dialog.ShowError(err, u.w) })
			return
		}
		if errors.Is(err, context.Canceled) {
			u.setStatus(fmt.Sprintf("停止しました (%d/%d件)", res.Stats.Scanned, res.Stats.Discovered))
		} else {
			u.setStatus(fmt.Sprintf("完了 %d件 (%.1fs)", res.Stats.Scanned, res.Stats.Elapsed.Seconds()))
		}
		u.recordHistory(cfg, res)
		fyne.Do(func() {
			dialog.ShowInformation("検索結果", jsonmanager.Summary(res), u.w)
			if res.Stats.TotalMatches() > 0 {
				openResults(u, res, cfg)
			}
		})
	}()
}

func (u *uiState) onStop() {
	u.runMu.Lock()
	defer u.runMu.Unlock()
	if u.cancel != nil {
		u.cancel()
		u.setStatus("停止中...")
	}
}

func (u *uiState) recordHistory(cfg jsonmanager.Config, res *jsonmanager.Result) {
	if cfg.HistoryDB == "" {
		return
	}
	h, err := store.OpenHistory(cfg.HistoryDB)
	if err != nil {
		u.logger.Error("failed to open history", "path", cfg.HistoryDB, "error", err)
		return
	}
	defer h.Close()
	if err := h.SaveResult(context.Background(), res); err != nil {
		u.logger.Error("failed to save history", "path", cfg.HistoryDB, "error", err)
	}
}

// guiProgress forwards batch progress to the main window, at most every
// progressInterval except for the final notification.
type guiProgress struct {
	u     *uiState
	every rate.Sometimes

	current, total atomic.Int64
	dups, near     atomic.Int64
}

const progressInterval = 100 * time.Millisecond

func newGUIProgress(u *uiState) *guiProgress {
	return &guiProgress{u: u, every: rate.Sometimes{First: 1, Interval: progressInterval}}
}

func (p *guiProgress) Notify(current, total int, item string) {
	p.current.Store(int64(current))
	p.total.Store(int64(total))
	if current == total {
		p.flush()
		return
	}
	p.every.Do(p.flush)
}

func (p *guiProgress) Matches(duplicates, near int) {
	p.dups.Store(int64(duplicates))
	p.near.Store(int64(near))
}

func (p *guiProgress) flush() {
	current, total := p.current.Load(), p.total.Load()
	if total > 0 {
		_ = p.u.progressBind.Set(float64(current) / float64(total))
	}
	p.u.setStatus(fmt.Sprintf("検索中 %d/%d", current, total))
	_ = p.u.matchesBind.Set(fmt.Sprintf("重複: %d / 近似: %d / 合計: %d",
		p.dups.Load(), p.near.Load(), p.dups.Load()+p.near.Load()))
}
