package i18n

import (
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/Bilolbee/apkban/resources"
)

const (
	baseLanguage     = "en"
	translationsPath = "i18n/translations.yml"
)

var state = struct {
	once            sync.Once
	mutex           sync.RWMutex
	translations    map[string]map[string]string
	defaultLanguage string
}{
	translations:    make(map[string]map[string]string),
	defaultLanguage: baseLanguage,
}

// load turns the key -> LANG -> text dictionary into per-language lookups.
func load() {
	content, err := resources.FS.ReadFile(translationsPath)
	if err != nil {
		log.WithError(err).Errorln("cant load i18n")
		return
	}
	dict := map[string]map[string]string{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		log.WithError(err).Errorln("cant unmarshal i18n")
		return
	}

	state.mutex.Lock()
	defer state.mutex.Unlock()
	for key, byLang := range dict {
		for lang, text := range byLang {
			lang = strings.ToLower(lang)
			if _, ok := state.translations[lang]; !ok {
				state.translations[lang] = make(map[string]string)
			}
			state.translations[lang][key] = text
		}
	}
}

// SetDefaultLanguage picks the language used when Get is called with an empty one.
func SetDefaultLanguage(lang string) {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	state.defaultLanguage = strings.ToLower(lang)
}

func DefaultLanguage() string {
	state.mutex.RLock()
	defer state.mutex.RUnlock()
	return state.defaultLanguage
}

func Get(key, lang string) string {
	state.once.Do(load)

	state.mutex.RLock()
	defer state.mutex.RUnlock()

	lang = strings.ToLower(lang)
	if lang == "" {
		lang = state.defaultLanguage
	}
	if lang == baseLanguage {
		return key
	}
	if res, ok := state.translations[lang][key]; ok {
		return res
	}
	log.Tracef(`no translation for key "%s"`, key)
	return key
}

// GetLanguagesList returns every language with a catalog, the base one included.
func GetLanguagesList() []string {
	state.once.Do(load)

	state.mutex.RLock()
	defer state.mutex.RUnlock()

	res := []string{baseLanguage}
	for lang := range state.translations {
		res = append(res, lang)
	}
	sort.Strings(res)
	return res
}
